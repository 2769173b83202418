package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "fmt"

// Geometry is the cylinder/head/sector triple recorded in the footer. It is
// informational only; reads are addressed by byte offset.
type Geometry struct {
	Cylinders       uint16
	Heads           uint8
	SectorsPerTrack uint8
}

// GeometryFromUint32 unpacks the on-disk geometry field.
func GeometryFromUint32(x uint32) Geometry {
	return Geometry{
		Cylinders:       uint16(x >> 16),
		Heads:           uint8(x >> 8),
		SectorsPerTrack: uint8(x),
	}
}

// Uint32 packs the geometry into its on-disk form.
func (g Geometry) Uint32() uint32 {
	return uint32(g.Cylinders)<<16 | uint32(g.Heads)<<8 | uint32(g.SectorsPerTrack)
}

// Sectors is the number of sectors addressable through CHS.
func (g Geometry) Sectors() int64 {
	return int64(g.Cylinders) * int64(g.Heads) * int64(g.SectorsPerTrack)
}

func (g Geometry) String() string {
	return fmt.Sprintf("%d/%d/%d", g.Cylinders, g.Heads, g.SectorsPerTrack)
}

// ComputeGeometry derives the CHS geometry for a disk of size bytes using the
// algorithm from the VHD format document.
func ComputeGeometry(size int64) Geometry {

	var cylinders, heads, sectorsPerTrack int64
	var cylinderTimesHeads int64

	totalSectors := size / SectorSize
	if totalSectors > 65535*16*255 {
		totalSectors = 65535 * 16 * 255
	}

	if totalSectors >= 65535*16*63 {
		sectorsPerTrack = 255
		heads = 16
		cylinderTimesHeads = totalSectors / sectorsPerTrack
	} else {
		sectorsPerTrack = 17
		cylinderTimesHeads = totalSectors / sectorsPerTrack
		heads = (cylinderTimesHeads + 1023) / 1024
		if heads < 4 {
			heads = 4
		}
		if cylinderTimesHeads >= (heads*1024) || heads > 16 {
			sectorsPerTrack = 31
			heads = 16
			cylinderTimesHeads = totalSectors / sectorsPerTrack
		}
		if cylinderTimesHeads >= heads*1024 {
			sectorsPerTrack = 63
			heads = 16
			cylinderTimesHeads = totalSectors / sectorsPerTrack
		}
	}
	cylinders = cylinderTimesHeads / heads

	return Geometry{
		Cylinders:       uint16(cylinders),
		Heads:           uint8(heads),
		SectorsPerTrack: uint8(sectorsPerTrack),
	}
}
