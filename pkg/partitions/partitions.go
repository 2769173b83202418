// Package partitions reads the partition table of a virtual disk and exposes
// each partition as its own byte range.
package partitions

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"fmt"
	"io"

	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/pkg/errors"
)

// SectorSize is the logical sector size assumed for partition tables.
const SectorSize = 512

// ErrNoTable is returned when the disk carries neither a GPT nor an MBR.
var ErrNoTable = errors.New("no partition table found")

// Disk is the view of a virtual disk needed to find and read partitions.
type Disk interface {
	io.ReaderAt
	Read(ctx context.Context, pos int64, length int) ([]byte, error)
	Size() int64
}

// Partition describes one used entry of the table.
type Partition struct {
	Index int
	Name  string
	Type  string
	Start int64
	Size  int64
}

// Table is a decoded partition table.
type Table struct {
	Type       string
	Partitions []Partition
}

// readOnlyFile satisfies the file interface go-diskfs expects while refusing
// writes.
type readOnlyFile struct {
	io.ReaderAt
	size   int64
	offset int64
}

func (f *readOnlyFile) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("virtual disk is read-only")
}

func (f *readOnlyFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += f.size
	default:
		return 0, errors.Errorf("invalid whence %d", whence)
	}
	if offset < 0 {
		return 0, errors.New("negative seek position")
	}
	f.offset = offset
	return offset, nil
}

// Read decodes the GPT or MBR partition table of disk, skipping empty
// entries. Indices are 1-based positions in the on-disk table.
func Read(disk Disk) (*Table, error) {

	if disk.Size() < 2*SectorSize {
		return nil, ErrNoTable
	}

	f := &readOnlyFile{ReaderAt: disk, size: disk.Size()}
	pt, err := partition.Read(f, SectorSize, SectorSize)
	if err != nil {
		return nil, errors.Wrap(ErrNoTable, err.Error())
	}

	table := &Table{Type: pt.Type()}

	for i, p := range pt.GetPartitions() {
		entry := Partition{
			Index: i + 1,
			Start: p.GetStart(),
			Size:  p.GetSize(),
		}

		switch x := p.(type) {
		case *gpt.Partition:
			if x.Type == gpt.Unused {
				continue
			}
			entry.Name = x.Name
			entry.Type = string(x.Type)
		case *mbr.Partition:
			if x.Type == mbr.Empty {
				continue
			}
			entry.Type = fmt.Sprintf("0x%02x", byte(x.Type))
		}

		if entry.Size <= 0 {
			continue
		}

		table.Partitions = append(table.Partitions, entry)
	}

	return table, nil
}

// Window is a read-only byte range of a disk. It reads through to the disk
// and reports the range's length as its size.
type Window struct {
	disk  Disk
	start int64
	size  int64
}

// NewWindow returns the range [start, start+size) of disk, clipped to the
// end of the disk.
func NewWindow(disk Disk, start, size int64) *Window {
	if start > disk.Size() {
		start = disk.Size()
	}
	if start+size > disk.Size() {
		size = disk.Size() - start
	}
	return &Window{disk: disk, start: start, size: size}
}

// Of returns the window covering p.
func Of(disk Disk, p Partition) *Window {
	return NewWindow(disk, p.Start, p.Size)
}

func (w *Window) Read(ctx context.Context, pos int64, length int) ([]byte, error) {
	if pos < 0 || length < 0 {
		return nil, errors.Errorf("invalid range: offset %d, length %d", pos, length)
	}
	if pos >= w.size {
		return []byte{}, nil
	}
	if rem := w.size - pos; int64(length) > rem {
		length = int(rem)
	}
	return w.disk.Read(ctx, w.start+pos, length)
}

func (w *Window) Size() int64 {
	return w.size
}

// Name is the file name under which partition p of the disk exposed as base
// is mounted.
func Name(base string, p Partition) string {
	return fmt.Sprintf("%sp%d", base, p.Index)
}
