// Package container provides random-access readers over the storage that
// holds a VHD image: local files and remote object stores.
package container

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrShortRead is returned when the backing storage yields fewer bytes than
// were requested from inside its bounds.
var ErrShortRead = errors.New("short read from container")

// Reader reads byte ranges at absolute offsets. ReadRange returns exactly
// length bytes or an error. Implementations must be safe for concurrent use.
type Reader interface {
	ReadRange(ctx context.Context, offset int64, length int) ([]byte, error)
	Size() int64
	Close() error
}

func checkRange(r Reader, offset int64, length int) error {
	if offset < 0 || length < 0 {
		return errors.Errorf("invalid range: offset %d, length %d", offset, length)
	}
	if offset > r.Size()-int64(length) {
		return errors.Wrapf(io.ErrUnexpectedEOF, "range at offset %d (%d bytes) exceeds container size %d", offset, length, r.Size())
	}
	return nil
}

type readerAt struct {
	name   string
	src    io.ReaderAt
	size   int64
	closer io.Closer
}

// FromReaderAt wraps an io.ReaderAt of known size. The source must support
// concurrent ReadAt calls; wrap the result with Serialize if it does not.
func FromReaderAt(name string, src io.ReaderAt, size int64) Reader {
	return &readerAt{name: name, src: src, size: size}
}

// OpenFile opens a local file as a container.
func OpenFile(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if fi.IsDir() {
		_ = f.Close()
		return nil, errors.Errorf("'%s' is a directory", path)
	}

	return &readerAt{name: path, src: f, size: fi.Size(), closer: f}, nil
}

func (r *readerAt) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := checkRange(r, offset, length); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := r.src.ReadAt(buf, offset)
	if n == length {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = ErrShortRead
	}
	return nil, errors.Wrapf(err, "reading %d bytes at offset %d of '%s'", length, offset, r.name)
}

func (r *readerAt) Size() int64 {
	return r.size
}

func (r *readerAt) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *readerAt) String() string {
	return r.name
}

// ReaderAt adapts a Reader to io.ReaderAt, for libraries that expect one.
func ReaderAt(ctx context.Context, r Reader) io.ReaderAt {
	return &adapter{ctx: ctx, r: r}
}

type adapter struct {
	ctx context.Context
	r   Reader
}

func (a *adapter) ReadAt(p []byte, off int64) (int, error) {
	if off >= a.r.Size() {
		return 0, io.EOF
	}

	length := len(p)
	var eof bool
	if rem := a.r.Size() - off; int64(length) > rem {
		length = int(rem)
		eof = true
	}

	data, err := a.r.ReadRange(a.ctx, off, length)
	if err != nil {
		return 0, err
	}

	n := copy(p, data)
	if eof {
		return n, io.EOF
	}
	return n, nil
}
