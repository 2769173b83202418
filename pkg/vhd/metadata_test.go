package vhd

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFooter() *Footer {
	f := new(Footer)
	copy(f.Cookie[:], FooterCookie)
	f.Features = 2
	f.FileFormatVersion = 0x00010000
	f.DataOffset = 512
	f.TimeStamp = 86400
	copy(f.CreatorApplication[:], "vpc ")
	f.CreatorVersion = 0x00050003
	copy(f.CreatorHostOS[:], "Wi2k")
	f.OriginalSize = 0x1_0000_0200
	f.SetCurrentSize(0x1_0000_0200)
	f.DiskGeometry = ComputeGeometry(0x1_0000_0200).Uint32()
	f.DiskType = DiskTypeDynamic
	copy(f.UniqueID[:], "0123456789abcdef")
	f.UpdateChecksum()
	return f
}

func testHeader() *Header {
	h := new(Header)
	copy(h.Cookie[:], HeaderCookie)
	h.DataOffset = NoDataOffset
	h.TableOffset = 1536
	h.HeaderVersion = 0x00010000
	h.MaxTableEntries = 2049
	h.BlockSize = 0x200000
	h.UpdateChecksum()
	return h
}

func TestFooterRoundTrip(t *testing.T) {

	f := testFooter()
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, FooterSize)

	assert.Equal(t, []byte(FooterCookie), data[:8])
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[48:]))
	assert.Equal(t, uint32(0x200), binary.BigEndian.Uint32(data[52:]))

	g, err := DecodeFooter(data)
	require.NoError(t, err)
	assert.Equal(t, f, g)
	assert.Equal(t, uint64(0x1_0000_0200), g.CurrentSize())
	assert.True(t, g.ChecksumValid())
	assert.Equal(t, "vpc ", string(g.CreatorApplication[:]))
	assert.Equal(t, 2000, g.Time().Year())
	assert.Equal(t, 2, g.Time().Day())

	again, err := g.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFooterChecksum(t *testing.T) {

	f := testFooter()
	data, err := f.MarshalBinary()
	require.NoError(t, err)

	var sum uint32
	for i, b := range data {
		if i >= 64 && i < 68 {
			continue
		}
		sum += uint32(b)
	}
	assert.Equal(t, ^sum, f.Checksum)

	data[300] ^= 0xFF
	g, err := DecodeFooter(data)
	require.NoError(t, err)
	assert.False(t, g.ChecksumValid())
}

func TestFooterBadCookie(t *testing.T) {

	data, err := testFooter().MarshalBinary()
	require.NoError(t, err)
	copy(data, "notvhd!!")

	_, err = DecodeFooter(data)
	assert.True(t, errors.Is(err, ErrMalformedContainer))

	_, err = DecodeFooter(data[:100])
	assert.True(t, errors.Is(err, ErrMalformedContainer))
}

func TestHeaderRoundTrip(t *testing.T) {

	h := testHeader()
	name := utf16.Encode([]rune("parent.vhd"))
	for i, x := range name {
		binary.BigEndian.PutUint16(h.ParentUnicodeName[2*i:], x)
	}
	copy(h.ParentLocators[0].PlatformCode[:], "W2ku")
	h.ParentLocators[0].PlatformDataOffset = 0x10000
	h.UpdateChecksum()

	data, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, HeaderSize)

	assert.Equal(t, uint64(1536), binary.BigEndian.Uint64(data[16:]))
	assert.Equal(t, uint32(2049), binary.BigEndian.Uint32(data[28:]))
	assert.Equal(t, uint32(0x200000), binary.BigEndian.Uint32(data[32:]))

	g, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, h, g)
	assert.True(t, g.ChecksumValid())
	assert.Equal(t, "parent.vhd", g.ParentName())
	assert.Equal(t, uint32(4096), g.SectorsPerBlock())
	assert.Equal(t, int64(512), g.BitmapSize())
	assert.Equal(t, int64(2049*4), g.TableSize())

	again, err := g.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, again))
}

func TestHeaderValidation(t *testing.T) {

	h := testHeader()
	data, err := h.MarshalBinary()
	require.NoError(t, err)

	bad := append([]byte(nil), data...)
	copy(bad, "cxspars!")
	_, err = DecodeHeader(bad)
	assert.True(t, errors.Is(err, ErrMalformedContainer))

	for _, size := range []uint32{0, 1000, 511} {
		h.BlockSize = size
		data, err = h.MarshalBinary()
		require.NoError(t, err)
		_, err = DecodeHeader(data)
		assert.True(t, errors.Is(err, ErrInvalidBlockSize), "block size %d", size)
	}

	_, err = DecodeHeader(data[:HeaderSize-1])
	assert.True(t, errors.Is(err, ErrMalformedContainer))
}

func TestBitmapSize(t *testing.T) {

	cases := map[uint32]int64{
		512:       512,
		4096:      512,
		0x200000:  512,
		0x800000:  2048,
		0x1000000: 4096,
	}

	for blockSize, expect := range cases {
		h := &Header{BlockSize: blockSize}
		assert.Equal(t, expect, h.BitmapSize(), "block size %d", blockSize)
	}
}

func TestBATResolve(t *testing.T) {

	raw := []byte{
		0xFF, 0xFF, 0xFF, 0xFF,
		0x00, 0x00, 0x00, 0xC8,
		0xFF, 0xFF, 0xFF, 0xFF,
		0x00, 0x01, 0x00, 0x00,
	}

	bat, err := DecodeBAT(raw, 4)
	require.NoError(t, err)
	assert.Equal(t, BAT{Unallocated, 200, Unallocated, 0x10000}, bat)
	assert.Equal(t, 2, bat.Allocated())

	_, ok := bat.Resolve(0)
	assert.False(t, ok)

	sector, ok := bat.Resolve(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(200), sector)

	for _, index := range []uint64{4, 5, 1 << 40, ^uint64(0)} {
		_, ok = bat.Resolve(index)
		assert.False(t, ok, "index %d", index)
	}

	enc, err := bat.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, raw, enc)

	_, err = DecodeBAT(raw[:10], 4)
	assert.True(t, errors.Is(err, ErrMalformedContainer))
}

func TestGeometry(t *testing.T) {

	g := ComputeGeometry(8 << 20)
	assert.Equal(t, Geometry{Cylinders: 240, Heads: 4, SectorsPerTrack: 17}, g)
	assert.Equal(t, g, GeometryFromUint32(g.Uint32()))
	assert.Equal(t, "240/4/17", g.String())
	assert.LessOrEqual(t, g.Sectors()*SectorSize, int64(8<<20))

	big := ComputeGeometry(1 << 40)
	assert.Equal(t, Geometry{Cylinders: 65535, Heads: 16, SectorsPerTrack: 255}, big)
}

func TestDiskTypeString(t *testing.T) {
	assert.Equal(t, "dynamic", DiskTypeDynamic.String())
	assert.Equal(t, "fixed", DiskTypeFixed.String())
	assert.Equal(t, "differencing", DiskTypeDifferencing.String())
	assert.Equal(t, "unknown (9)", DiskType(9).String())
}
