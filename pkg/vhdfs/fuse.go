package vhdfs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"os"
	"path"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
	"github.com/vorteil/vhdmount/pkg/elog"
)

// Config controls how a disk is mounted.
type Config struct {
	// Name of the file exposing the whole disk. Defaults to DefaultName.
	Name string

	// FsName is shown as the mount source, e.g. in /proc/mounts.
	FsName string

	// Verbose logs every filesystem operation with its result.
	Verbose bool

	// AllowOther lets users other than the mounting one access the mount.
	AllowOther bool

	// Debug enables go-fuse protocol tracing.
	Debug bool

	Logger elog.Logger

	// Extra files to expose next to the disk, such as partitions.
	Extra map[string]Source
}

// node serves both directories and files; ops decides which it is.
type node struct {
	fs.Inode
	ops  operations
	path string
}

var (
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReader    = (*node)(nil)
)

func callerOf(ctx context.Context) Owner {
	if c, ok := ctx.(*fuse.Context); ok {
		return Owner{Uid: c.Caller.Uid, Gid: c.Caller.Gid}
	}
	return Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
}

func fillAttr(out *fuse.Attr, attr Attr) {
	out.Mode = attr.Mode
	out.Size = uint64(attr.Size)
	out.Blocks = (uint64(attr.Size) + 511) / 512
	out.Nlink = 1
	out.Owner = fuse.Owner{Uid: attr.Owner.Uid, Gid: attr.Owner.Gid}
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := path.Join(n.path, name)
	attr, errno := n.ops.Getattr(ctx, p, callerOf(ctx))
	if errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, attr)

	child := &node{ops: n.ops, path: p}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: attr.Mode & syscall.S_IFMT}), 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, errno := n.ops.Readdir(ctx, n.path)
	if errno != 0 {
		return nil, errno
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		attr, errno := n.ops.Getattr(ctx, path.Join(n.path, name), callerOf(ctx))
		if errno != 0 {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: attr.Mode & syscall.S_IFMT,
		})
	}

	return fs.NewListDirStream(entries), 0
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, errno := n.ops.Getattr(ctx, n.path, callerOf(ctx))
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, attr)
	return 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	errno := n.ops.Open(ctx, n.path, flags)
	if errno != 0 {
		return nil, 0, errno
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, errno := n.ops.Read(ctx, n.path, off, len(dest))
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(data), 0
}

// buildOps assembles the operation table for a mount, wrapping it with call
// logging when cfg.Verbose is set.
func buildOps(disk Source, cfg Config) operations {
	log := cfg.Logger
	if log == nil {
		log = elog.Discard
	}

	var ops operations = newTreeOps(NewTree(cfg.Name, disk, cfg.Extra), log)
	if cfg.Verbose {
		ops = withLogging(ops, log)
	}
	return ops
}

// Mount is an active filesystem.
type Mount struct {
	Dir string

	lock    sync.Mutex
	done    bool
	unmount func() error
	wait    func()
}

// NewMount attaches the filesystem serving disk to dir. The directory must
// already exist.
func NewMount(dir string, disk Source, cfg Config) (*Mount, error) {

	root := &node{ops: buildOps(disk, cfg), path: "/"}

	fsName := cfg.FsName
	if fsName == "" {
		fsName = "vhd"
	}

	server, err := fs.Mount(dir, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:     fsName,
			Name:       "vhdfs",
			AllowOther: cfg.AllowOther,
			Debug:      cfg.Debug,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "mounting on '%s'", dir)
	}

	return &Mount{
		Dir:     dir,
		unmount: server.Unmount,
		wait:    server.Wait,
	}, nil
}

// Unmount detaches the filesystem. A failed attempt, such as on a busy mount,
// can be retried; once it succeeds later calls return nil.
func (m *Mount) Unmount() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.done {
		return nil
	}

	err := m.unmount()
	if err != nil {
		return errors.Wrapf(err, "unmounting '%s'", m.Dir)
	}

	m.done = true
	return nil
}

// Wait blocks until the filesystem is unmounted.
func (m *Mount) Wait() {
	m.wait()
}
