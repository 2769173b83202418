package vhdfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vorteil/vhdmount/pkg/elog"
)

// Permission bits: owner read for files, owner read and search for
// directories.
const (
	FileMode = syscall.S_IFREG | 0400
	DirMode  = syscall.S_IFDIR | 0500
)

// Owner identifies the process calling into the filesystem.
type Owner struct {
	Uid uint32
	Gid uint32
}

// Attr is the subset of stat information the filesystem reports.
type Attr struct {
	Mode  uint32
	Size  int64
	Owner Owner
}

// operations is the path-addressed operation table served by the
// filesystem. Every method reports failures as errno values.
type operations interface {
	Readdir(ctx context.Context, path string) ([]string, syscall.Errno)
	Getattr(ctx context.Context, path string, caller Owner) (Attr, syscall.Errno)
	Open(ctx context.Context, path string, flags uint32) syscall.Errno
	Read(ctx context.Context, path string, pos int64, length int) ([]byte, syscall.Errno)
}

type treeOps struct {
	root *Entry
	log  elog.Logger
}

func newTreeOps(root *Entry, log elog.Logger) *treeOps {
	if log == nil {
		log = elog.Discard
	}
	return &treeOps{root: root, log: log}
}

func (t *treeOps) Readdir(ctx context.Context, path string) ([]string, syscall.Errno) {
	e, ok := t.root.Lookup(path)
	if !ok {
		return nil, syscall.ENOENT
	}
	if e.Kind != KindDirectory {
		return nil, syscall.ENOTDIR
	}
	return e.Names(), 0
}

func (t *treeOps) Getattr(ctx context.Context, path string, caller Owner) (Attr, syscall.Errno) {
	e, ok := t.root.Lookup(path)
	if !ok {
		return Attr{}, syscall.ENOENT
	}
	switch e.Kind {
	case KindDirectory:
		return Attr{Mode: DirMode, Owner: caller}, 0
	default:
		return Attr{Mode: FileMode, Size: e.File.Size(), Owner: caller}, 0
	}
}

func (t *treeOps) Open(ctx context.Context, path string, flags uint32) syscall.Errno {
	e, ok := t.root.Lookup(path)
	if !ok {
		return syscall.ENOENT
	}
	if e.Kind == KindDirectory {
		return syscall.EISDIR
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return syscall.EROFS
	}
	return 0
}

func (t *treeOps) Read(ctx context.Context, path string, pos int64, length int) ([]byte, syscall.Errno) {
	e, ok := t.root.Lookup(path)
	if !ok {
		return nil, syscall.ENOENT
	}
	if e.Kind == KindDirectory {
		return nil, syscall.EISDIR
	}
	if pos < 0 || length < 0 {
		return nil, syscall.EINVAL
	}

	data, err := e.File.Read(ctx, pos, length)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, syscall.EINTR
		}
		t.log.Errorf("read %s [%d, +%d): %v", path, pos, length, err)
		return nil, syscall.EIO
	}

	return data, 0
}

// loggedOps reports every call and its result, marking failures with =!>.
type loggedOps struct {
	next operations
	log  elog.Logger
}

func withLogging(next operations, log elog.Logger) operations {
	return &loggedOps{next: next, log: log}
}

func (l *loggedOps) report(name string, args string, errno syscall.Errno, result string) {
	arrow := "==>"
	if errno != 0 {
		arrow = "=!>"
		result = errno.Error()
	}
	l.log.Printf("%s(%s) %s (%s)", name, args, arrow, result)
}

func (l *loggedOps) Readdir(ctx context.Context, path string) ([]string, syscall.Errno) {
	names, errno := l.next.Readdir(ctx, path)
	l.report("readdir", fmt.Sprintf("%q", path), errno, "["+strings.Join(names, ", ")+"]")
	return names, errno
}

func (l *loggedOps) Getattr(ctx context.Context, path string, caller Owner) (Attr, syscall.Errno) {
	attr, errno := l.next.Getattr(ctx, path, caller)
	l.report("getattr", fmt.Sprintf("%q", path), errno, fmt.Sprintf("mode: %#o, size: %d, uid: %d, gid: %d", attr.Mode, attr.Size, attr.Owner.Uid, attr.Owner.Gid))
	return attr, errno
}

func (l *loggedOps) Open(ctx context.Context, path string, flags uint32) syscall.Errno {
	errno := l.next.Open(ctx, path, flags)
	l.report("open", fmt.Sprintf("%q, %#x", path, flags), errno, "0")
	return errno
}

func (l *loggedOps) Read(ctx context.Context, path string, pos int64, length int) ([]byte, syscall.Errno) {
	data, errno := l.next.Read(ctx, path, pos, length)
	l.report("read", fmt.Sprintf("%q, %d, %d", path, length, pos), errno, fmt.Sprintf("Buffer(%d)", len(data)))
	return data, errno
}
