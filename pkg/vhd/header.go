package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// ParentLocator points at the parent image of a differencing disk.
type ParentLocator struct {
	PlatformCode       [4]byte
	PlatformDataSpace  uint32
	PlatformDataLength uint32
	Reserved           uint32
	PlatformDataOffset uint64
}

// Header is the 1024-byte dynamic disk header located at Footer.DataOffset.
type Header struct {
	Cookie            [8]byte
	DataOffset        uint64
	TableOffset       uint64
	HeaderVersion     uint32
	MaxTableEntries   uint32
	BlockSize         uint32
	Checksum          uint32
	ParentUniqueID    [16]byte
	ParentTimeStamp   uint32
	Reserved          [4]byte
	ParentUnicodeName [512]byte
	ParentLocators    [8]ParentLocator
	Reserved2         [256]byte
}

// DecodeHeader parses a dynamic disk header from the first HeaderSize bytes
// of data and checks its cookie and block size.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrMalformedContainer, "header truncated to %d bytes", len(data))
	}

	h := new(Header)
	err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.BigEndian, h)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedContainer, "decoding header: %v", err)
	}

	if string(h.Cookie[:]) != HeaderCookie {
		return nil, errors.Wrapf(ErrMalformedContainer, "bad header cookie %q", cstring(h.Cookie[:]))
	}

	if h.BlockSize == 0 || h.BlockSize%SectorSize != 0 {
		return nil, errors.Wrapf(ErrInvalidBlockSize, "%d bytes", h.BlockSize)
	}

	return h, nil
}

// MarshalBinary encodes the header exactly as it appears on disk.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(HeaderSize)
	err := binary.Write(buf, binary.BigEndian, h)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SectorsPerBlock is the number of 512-byte sectors in each block.
func (h *Header) SectorsPerBlock() uint32 {
	return h.BlockSize / SectorSize
}

// BitmapSize is the length in bytes of the sector bitmap stored ahead of
// every allocated block, padded to a whole number of sectors.
func (h *Header) BitmapSize() int64 {
	n := (int64(h.SectorsPerBlock()) + 7) / 8
	return (n + SectorSize - 1) / SectorSize * SectorSize
}

// TableSize is the on-disk length of the BAT in bytes, unpadded.
func (h *Header) TableSize() int64 {
	return int64(h.MaxTableEntries) * 4
}

// ParentName decodes the UTF-16 (big-endian) parent name of a differencing
// disk. It is empty for dynamic disks.
func (h *Header) ParentName() string {
	x := make([]uint16, len(h.ParentUnicodeName)/2)
	for i := range x {
		x[i] = binary.BigEndian.Uint16(h.ParentUnicodeName[2*i:])
		if x[i] == 0 {
			x = x[:i]
			break
		}
	}
	return string(utf16.Decode(x))
}

// ComputeChecksum returns the one's complement of the byte sum of the
// header with its checksum field treated as zero.
func (h *Header) ComputeChecksum() uint32 {
	c := *h
	c.Checksum = 0
	data, err := c.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return checksum(data)
}

// ChecksumValid reports whether the stored checksum matches the contents.
func (h *Header) ChecksumValid() bool {
	return h.Checksum == h.ComputeChecksum()
}

// UpdateChecksum recomputes and stores the checksum.
func (h *Header) UpdateChecksum() {
	h.Checksum = h.ComputeChecksum()
}
