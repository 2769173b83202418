package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/vorteil/vhdmount/pkg/container"
	"github.com/vorteil/vhdmount/pkg/elog"
)

// Options control how strictly a container's metadata is checked.
type Options struct {
	Logger elog.Logger

	// StrictChecksums rejects footers and headers whose checksum does not
	// match instead of warning about them.
	StrictChecksums bool
}

func (o *Options) logger() elog.Logger {
	if o == nil || o.Logger == nil {
		return elog.Discard
	}
	return o.Logger
}

func (o *Options) strict() bool {
	return o != nil && o.StrictChecksums
}

// Metadata is the decoded footer and, for dynamic and differencing disks,
// the header of a container.
type Metadata struct {
	Footer       *Footer
	Header       *Header
	FooterOffset int64
}

// ReadMetadata locates and decodes the footer of src, then the dynamic disk
// header if the disk type has one. It accepts every disk type.
func ReadMetadata(ctx context.Context, src container.Reader, opts *Options) (*Metadata, error) {

	log := opts.logger()

	if src.Size() < FooterSize {
		return nil, errors.Wrapf(ErrMalformedContainer, "container is only %d bytes", src.Size())
	}

	// dynamic disks mirror the footer at the start of the file; fixed disks
	// only carry the trailing copy
	candidates := []int64{0}
	if tail := src.Size() - FooterSize; tail > 0 {
		candidates = append(candidates, tail)
	}

	var footer *Footer
	var footerOffset int64
	var lastErr error

	for _, off := range candidates {
		data, err := src.ReadRange(ctx, off, FooterSize)
		if err != nil {
			return nil, &IOError{Op: "read footer", Offset: off, Length: FooterSize, Err: err}
		}

		f, err := DecodeFooter(data)
		if err != nil {
			lastErr = err
			continue
		}

		if !f.ChecksumValid() {
			if opts.strict() {
				lastErr = errors.Wrapf(ErrMalformedContainer, "footer at offset %d has checksum %#08x, expected %#08x", off, f.Checksum, f.ComputeChecksum())
				continue
			}
			log.Warnf("footer at offset %d has checksum %#08x, expected %#08x", off, f.Checksum, f.ComputeChecksum())
			if footer == nil {
				footer, footerOffset = f, off
			}
			continue
		}

		footer, footerOffset = f, off
		break
	}

	if footer == nil {
		return nil, lastErr
	}

	log.Debugf("using footer at offset %d: %s disk, %d bytes", footerOffset, footer.DiskType, footer.CurrentSize())

	md := &Metadata{
		Footer:       footer,
		FooterOffset: footerOffset,
	}

	if footer.DiskType != DiskTypeDynamic && footer.DiskType != DiskTypeDifferencing {
		return md, nil
	}

	off := int64(footer.DataOffset)
	if footer.DataOffset == NoDataOffset || off < 0 || off > src.Size()-HeaderSize {
		return nil, errors.Wrapf(ErrMalformedContainer, "header offset %#x lies outside the container (%d bytes)", footer.DataOffset, src.Size())
	}

	data, err := src.ReadRange(ctx, off, HeaderSize)
	if err != nil {
		return nil, &IOError{Op: "read header", Offset: off, Length: HeaderSize, Err: err}
	}

	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	if !h.ChecksumValid() {
		if opts.strict() {
			return nil, errors.Wrapf(ErrMalformedContainer, "header has checksum %#08x, expected %#08x", h.Checksum, h.ComputeChecksum())
		}
		log.Warnf("header has checksum %#08x, expected %#08x", h.Checksum, h.ComputeChecksum())
	}

	md.Header = h
	return md, nil
}

// Disk is a read-only view of the virtual disk stored in a dynamic VHD. Its
// metadata and BAT are loaded once by Open and never change afterwards, so a
// Disk may be read from many goroutines at once.
type Disk struct {
	src        container.Reader
	footer     *Footer
	header     *Header
	bat        BAT
	size       int64
	blockSize  int64
	bitmapSize int64
	log        elog.Logger
}

// Open parses the metadata of a dynamic VHD and loads its BAT. Fixed and
// differencing disks are rejected with ErrUnsupportedDiskType.
func Open(ctx context.Context, src container.Reader, opts *Options) (*Disk, error) {

	md, err := ReadMetadata(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	switch md.Footer.DiskType {
	case DiskTypeDynamic:
	case DiskTypeFixed, DiskTypeDifferencing:
		return nil, errors.Wrapf(ErrUnsupportedDiskType, "%s disk", md.Footer.DiskType)
	default:
		return nil, errors.Wrapf(ErrMalformedContainer, "disk type %s", md.Footer.DiskType)
	}

	bat, err := LoadBAT(ctx, src, md.Header)
	if err != nil {
		return nil, err
	}

	d := &Disk{
		src:        src,
		footer:     md.Footer,
		header:     md.Header,
		bat:        bat,
		size:       int64(md.Footer.CurrentSize()),
		blockSize:  int64(md.Header.BlockSize),
		bitmapSize: md.Header.BitmapSize(),
		log:        opts.logger(),
	}

	if d.size < 0 {
		return nil, errors.Wrapf(ErrMalformedContainer, "virtual size %d out of range", md.Footer.CurrentSize())
	}

	d.log.Debugf("loaded block allocation table: %d entries, %d allocated, %d byte blocks", len(bat), bat.Allocated(), d.blockSize)

	return d, nil
}

// Size is the length of the virtual disk in bytes.
func (d *Disk) Size() int64 {
	return d.size
}

// BlockSize is the length of each block in bytes.
func (d *Disk) BlockSize() int64 {
	return d.blockSize
}

func (d *Disk) Footer() *Footer {
	return d.footer
}

func (d *Disk) Header() *Header {
	return d.header
}

// BAT returns the loaded allocation table. Callers must not modify it.
func (d *Disk) BAT() BAT {
	return d.bat
}

// Blocks is the number of blocks spanned by the virtual disk.
func (d *Disk) Blocks() uint64 {
	return uint64((d.size + d.blockSize - 1) / d.blockSize)
}

// dataOffset is the container offset of the first data byte of the block
// stored at sector, skipping the sector bitmap.
func (d *Disk) dataOffset(sector uint32) int64 {
	return int64(sector)*SectorSize + d.bitmapSize
}

// ReadBlock returns the full contents of block index. Unallocated blocks,
// including those beyond the end of the BAT, read as zeroes without touching
// the container.
func (d *Disk) ReadBlock(ctx context.Context, index uint64) ([]byte, error) {

	sector, ok := d.bat.Resolve(index)
	if !ok {
		return make([]byte, d.blockSize), nil
	}

	return d.fetch(ctx, "read block", d.dataOffset(sector), int(d.blockSize))
}

func (d *Disk) fetch(ctx context.Context, op string, offset int64, length int) ([]byte, error) {
	data, err := d.src.ReadRange(ctx, offset, length)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, &IOError{Op: op, Offset: offset, Length: length, Err: err}
	}
	return data, nil
}

// Read returns up to length bytes of the virtual disk starting at pos. It
// returns fewer bytes only at the end of the disk, and an empty slice with a
// nil error when pos is at or beyond the end. If ctx is cancelled between
// blocks the bytes produced so far are returned along with ctx.Err().
func (d *Disk) Read(ctx context.Context, pos int64, length int) ([]byte, error) {

	if pos < 0 {
		return nil, errors.Errorf("negative read offset %d", pos)
	}
	if length < 0 {
		return nil, errors.Errorf("negative read length %d", length)
	}

	if pos >= d.size {
		return []byte{}, nil
	}
	if rem := d.size - pos; int64(length) > rem {
		length = int(rem)
	}

	buf := make([]byte, length)
	var produced int

	for produced < length {

		if err := ctx.Err(); err != nil {
			return buf[:produced], err
		}

		index := uint64(pos / d.blockSize)
		inBlock := pos % d.blockSize
		n := length - produced
		if rem := d.blockSize - inBlock; int64(n) > rem {
			n = int(rem)
		}

		if sector, ok := d.bat.Resolve(index); ok {
			data, err := d.fetch(ctx, "read block", d.dataOffset(sector)+inBlock, n)
			if err != nil {
				return buf[:produced], err
			}
			copy(buf[produced:], data)
		}

		produced += n
		pos += int64(n)
	}

	return buf, nil
}

// ReadAt implements io.ReaderAt over the virtual disk.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {

	data, err := d.Read(context.Background(), off, len(p))
	n := copy(p, data)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the underlying container.
func (d *Disk) Close() error {
	return d.src.Close()
}
