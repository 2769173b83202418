package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vorteil/vhdmount/pkg/container"
)

// BAT is the block allocation table: one sector address per logical block,
// or Unallocated. A loaded BAT must not be modified.
type BAT []uint32

// DecodeBAT decodes entries big-endian values from data.
func DecodeBAT(data []byte, entries uint32) (BAT, error) {
	if int64(len(data)) < int64(entries)*4 {
		return nil, errors.Wrapf(ErrMalformedContainer, "block allocation table truncated: %d bytes for %d entries", len(data), entries)
	}

	bat := make(BAT, entries)
	for i := range bat {
		bat[i] = binary.BigEndian.Uint32(data[4*i:])
	}

	return bat, nil
}

// LoadBAT reads the table described by h from r.
func LoadBAT(ctx context.Context, r container.Reader, h *Header) (BAT, error) {
	if h.MaxTableEntries == 0 {
		return BAT{}, nil
	}

	offset := int64(h.TableOffset)
	length := h.TableSize()
	if offset < 0 || offset > r.Size()-length {
		return nil, errors.Wrapf(ErrMalformedContainer, "block allocation table at offset %d (%d bytes) lies outside the container (%d bytes)", offset, length, r.Size())
	}

	data, err := r.ReadRange(ctx, offset, int(length))
	if err != nil {
		return nil, &IOError{Op: "read block allocation table", Offset: offset, Length: int(length), Err: err}
	}

	return DecodeBAT(data, h.MaxTableEntries)
}

// MarshalBinary encodes the table as it appears on disk, without padding.
func (bat BAT) MarshalBinary() ([]byte, error) {
	data := make([]byte, 4*len(bat))
	for i, x := range bat {
		binary.BigEndian.PutUint32(data[4*i:], x)
	}
	return data, nil
}

// Resolve returns the sector address of block index, or false when the block
// is unallocated or beyond the end of the table.
func (bat BAT) Resolve(index uint64) (uint32, bool) {
	if index >= uint64(len(bat)) {
		return 0, false
	}
	sector := bat[index]
	if sector == Unallocated {
		return 0, false
	}
	return sector, true
}

// Allocated counts the blocks that have backing storage.
func (bat BAT) Allocated() int {
	var n int
	for _, x := range bat {
		if x != Unallocated {
			n++
		}
	}
	return n
}
