package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// On-disk constants shared by every VHD variant.
const (
	SectorSize = 512
	FooterSize = 512
	HeaderSize = 1024

	FooterCookie = "conectix"
	HeaderCookie = "cxsparse"

	// Unallocated is the BAT entry for a block that was never written.
	Unallocated = 0xFFFFFFFF

	// NoDataOffset is the footer data offset of a fixed disk.
	NoDataOffset = 0xFFFFFFFFFFFFFFFF
)

// vhdEpoch is the origin of footer and header timestamps.
var vhdEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DiskType identifies the VHD variant described by a footer.
type DiskType uint32

// Disk types.
const (
	DiskTypeNone         DiskType = 0
	DiskTypeFixed        DiskType = 2
	DiskTypeDynamic      DiskType = 3
	DiskTypeDifferencing DiskType = 4
)

func (t DiskType) String() string {
	switch t {
	case DiskTypeNone:
		return "none"
	case DiskTypeFixed:
		return "fixed"
	case DiskTypeDynamic:
		return "dynamic"
	case DiskTypeDifferencing:
		return "differencing"
	default:
		return fmt.Sprintf("unknown (%d)", uint32(t))
	}
}

// Footer is the 512-byte record found at the end of every VHD and, for
// dynamic disks, mirrored at offset zero.
type Footer struct {
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      [4]byte
	OriginalSize       uint64
	CurrentSizeHigh    uint32
	CurrentSizeLow     uint32
	DiskGeometry       uint32
	DiskType           DiskType
	Checksum           uint32
	UniqueID           [16]byte
	SavedState         byte
	Reserved           [427]byte
}

// DecodeFooter parses a footer from the first FooterSize bytes of data.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, errors.Wrapf(ErrMalformedContainer, "footer truncated to %d bytes", len(data))
	}

	f := new(Footer)
	err := binary.Read(bytes.NewReader(data[:FooterSize]), binary.BigEndian, f)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedContainer, "decoding footer: %v", err)
	}

	if string(f.Cookie[:]) != FooterCookie {
		return nil, errors.Wrapf(ErrMalformedContainer, "bad footer cookie %q", cstring(f.Cookie[:]))
	}

	return f, nil
}

// MarshalBinary encodes the footer exactly as it appears on disk.
func (f *Footer) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(FooterSize)
	err := binary.Write(buf, binary.BigEndian, f)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CurrentSize returns the size of the virtual disk in bytes.
func (f *Footer) CurrentSize() uint64 {
	return uint64(f.CurrentSizeHigh)<<32 | uint64(f.CurrentSizeLow)
}

// SetCurrentSize splits size across the two on-disk halves.
func (f *Footer) SetCurrentSize(size uint64) {
	f.CurrentSizeHigh = uint32(size >> 32)
	f.CurrentSizeLow = uint32(size)
}

// Time converts the footer timestamp to wall-clock time.
func (f *Footer) Time() time.Time {
	return vhdEpoch.Add(time.Duration(f.TimeStamp) * time.Second)
}

// Geometry decodes the CHS geometry field.
func (f *Footer) Geometry() Geometry {
	return GeometryFromUint32(f.DiskGeometry)
}

// ComputeChecksum returns the one's complement of the byte sum of the
// footer with its checksum field treated as zero.
func (f *Footer) ComputeChecksum() uint32 {
	c := *f
	c.Checksum = 0
	data, err := c.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return checksum(data)
}

// ChecksumValid reports whether the stored checksum matches the contents.
func (f *Footer) ChecksumValid() bool {
	return f.Checksum == f.ComputeChecksum()
}

// UpdateChecksum recomputes and stores the checksum.
func (f *Footer) UpdateChecksum() {
	f.Checksum = f.ComputeChecksum()
}

func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return ^sum
}

func cstring(data []byte) string {
	for i := 0; i < len(data); i++ {
		if data[i] == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
