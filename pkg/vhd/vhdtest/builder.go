// Package vhdtest builds small in-memory VHD images and instrumented
// containers for tests.
package vhdtest

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/vorteil/vhdmount/pkg/vhd"
)

// TableOffset is where Builder places the BAT.
const TableOffset = vhd.SectorSize + vhd.HeaderSize

// Builder lays out a dynamic VHD: footer copy, header, BAT, then one
// bitmap and data region per allocated block, then the trailing footer.
type Builder struct {
	footer vhd.Footer
	header vhd.Header
	blocks map[uint32][]byte
	pinned map[uint32]uint32
}

// NewDynamic starts a dynamic disk of size bytes. The BAT gets one entry per
// block needed to cover size unless Entries overrides it.
func NewDynamic(size uint64, blockSize uint32) *Builder {

	b := &Builder{
		blocks: make(map[uint32][]byte),
		pinned: make(map[uint32]uint32),
	}

	f := &b.footer
	copy(f.Cookie[:], vhd.FooterCookie)
	f.Features = 0x00000002
	f.FileFormatVersion = 0x00010000
	f.DataOffset = vhd.SectorSize
	copy(f.CreatorApplication[:], "vhdm")
	f.CreatorVersion = 0x00010000
	copy(f.CreatorHostOS[:], "Wi2k")
	f.OriginalSize = size
	f.SetCurrentSize(size)
	f.DiskGeometry = vhd.ComputeGeometry(int64(size)).Uint32()
	f.DiskType = vhd.DiskTypeDynamic
	copy(f.UniqueID[:], "vhdtest-unique-0")

	h := &b.header
	copy(h.Cookie[:], vhd.HeaderCookie)
	h.DataOffset = vhd.NoDataOffset
	h.TableOffset = TableOffset
	h.HeaderVersion = 0x00010000
	h.BlockSize = blockSize
	if blockSize > 0 {
		h.MaxTableEntries = uint32((size + uint64(blockSize) - 1) / uint64(blockSize))
	}

	return b
}

// Entries sets the number of BAT entries.
func (b *Builder) Entries(n uint32) *Builder {
	b.header.MaxTableEntries = n
	return b
}

// Block allocates block index with data, placed after the BAT. Data shorter
// than the block size is zero-padded.
func (b *Builder) Block(index uint32, data []byte) *Builder {
	b.blocks[index] = data
	return b
}

// BlockAt allocates block index with its bitmap at the given sector.
func (b *Builder) BlockAt(index, sector uint32, data []byte) *Builder {
	b.blocks[index] = data
	b.pinned[index] = sector
	return b
}

// Footer exposes the footer for tests that need unusual field values.
func (b *Builder) Footer() *vhd.Footer {
	return &b.footer
}

// Header exposes the header for tests that need unusual field values.
func (b *Builder) Header() *vhd.Header {
	return &b.header
}

func alignSector(x int64) int64 {
	return (x + vhd.SectorSize - 1) / vhd.SectorSize * vhd.SectorSize
}

// Bytes renders the image with fresh checksums.
func (b *Builder) Bytes() []byte {

	footer := b.footer
	header := b.header
	footer.UpdateChecksum()
	header.UpdateChecksum()

	blockSize := int64(header.BlockSize)
	bitmapSize := header.BitmapSize()
	region := bitmapSize + blockSize

	batSize := alignSector(int64(header.MaxTableEntries) * 4)
	bat := bytes.Repeat([]byte{0xFF}, int(batSize))

	end := int64(TableOffset) + batSize
	for _, sector := range b.pinned {
		if x := int64(sector)*vhd.SectorSize + region; x > end {
			end = x
		}
	}

	indices := make([]uint32, 0, len(b.blocks))
	for i := range b.blocks {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	placed := make(map[uint32]uint32)
	for _, i := range indices {
		if sector, ok := b.pinned[i]; ok {
			placed[i] = sector
			continue
		}
		placed[i] = uint32(end / vhd.SectorSize)
		end += region
	}

	for i, sector := range placed {
		if i < header.MaxTableEntries {
			binary.BigEndian.PutUint32(bat[4*i:], sector)
		}
	}

	img := make([]byte, end+vhd.FooterSize)

	fdata, err := footer.MarshalBinary()
	if err != nil {
		panic(err)
	}
	hdata, err := header.MarshalBinary()
	if err != nil {
		panic(err)
	}

	copy(img[0:], fdata)
	copy(img[vhd.SectorSize:], hdata)
	copy(img[TableOffset:], bat)

	for i, sector := range placed {
		off := int64(sector) * vhd.SectorSize
		copy(img[off:off+bitmapSize], bytes.Repeat([]byte{0xFF}, int(bitmapSize)))
		data := b.blocks[i]
		if int64(len(data)) > blockSize {
			data = data[:blockSize]
		}
		copy(img[off+bitmapSize:], data)
	}

	copy(img[end:], fdata)

	return img
}

// Fixed returns data followed by a fixed disk footer.
func Fixed(data []byte) []byte {

	f := new(vhd.Footer)
	copy(f.Cookie[:], vhd.FooterCookie)
	f.Features = 0x00000002
	f.FileFormatVersion = 0x00010000
	f.DataOffset = vhd.NoDataOffset
	f.OriginalSize = uint64(len(data))
	f.SetCurrentSize(uint64(len(data)))
	f.DiskGeometry = vhd.ComputeGeometry(int64(len(data))).Uint32()
	f.DiskType = vhd.DiskTypeFixed
	f.UpdateChecksum()

	fdata, err := f.MarshalBinary()
	if err != nil {
		panic(err)
	}

	img := make([]byte, 0, len(data)+len(fdata))
	img = append(img, data...)
	return append(img, fdata...)
}
