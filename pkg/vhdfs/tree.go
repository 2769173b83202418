// Package vhdfs exposes a virtual disk, and optionally windows onto it, as a
// small read-only FUSE filesystem.
package vhdfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"sort"
	"strings"
)

// Source is the readable content behind a file entry. Read follows the
// short-read semantics of vhd.Disk.Read.
type Source interface {
	Read(ctx context.Context, pos int64, length int) ([]byte, error)
	Size() int64
}

// Kind tags an Entry.
type Kind int

const (
	KindDirectory Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Entry is a node of the exposed tree: either a directory holding named
// children or a file backed by a Source. Only the fields for its Kind are
// set.
type Entry struct {
	Kind     Kind
	Children map[string]*Entry
	File     Source
}

// Directory builds a directory entry.
func Directory(children map[string]*Entry) *Entry {
	if children == nil {
		children = make(map[string]*Entry)
	}
	return &Entry{Kind: KindDirectory, Children: children}
}

// File builds a file entry.
func File(src Source) *Entry {
	return &Entry{Kind: KindFile, File: src}
}

// Names lists the children of a directory in sorted order.
func (e *Entry) Names() []string {
	names := make([]string, 0, len(e.Children))
	for name := range e.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a slash-separated absolute path below e.
func (e *Entry) Lookup(path string) (*Entry, bool) {
	cur := e
	for _, elem := range strings.Split(path, "/") {
		if elem == "" {
			continue
		}
		if cur.Kind != KindDirectory {
			return nil, false
		}
		next, ok := cur.Children[elem]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// DefaultName is the name under which the whole disk is exposed.
const DefaultName = "vhdi1"

// NewTree builds the root directory: the disk under name, plus any extra
// files.
func NewTree(name string, disk Source, extra map[string]Source) *Entry {
	if name == "" {
		name = DefaultName
	}

	root := Directory(nil)
	root.Children[name] = File(disk)
	for k, src := range extra {
		if _, ok := root.Children[k]; ok {
			continue
		}
		root.Children[k] = File(src)
	}

	return root
}
