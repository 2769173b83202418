package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdmount/pkg/vhd"
)

var (
	flagCatOffset int64
	flagCatLength int64
	flagCatOutput string
)

func init() {
	f := catCmd.Flags()
	f.Int64Var(&flagCatOffset, "offset", 0, "byte offset into the virtual disk to start reading from")
	f.Int64Var(&flagCatLength, "length", -1, "number of bytes to read (-1 reads to the end of the disk)")
	f.StringVarP(&flagCatOutput, "output", "o", "-", "write to this file instead of stdout")
}

var catCmd = &cobra.Command{
	Use:   "cat VHD",
	Short: "Write a byte range of the virtual disk to stdout or a file",
	Long: `Read a range of the virtual disk and write it out. Unallocated blocks are
written as zeros, so the result is the same as reading the mounted file.`,
	Example: `  vhdmount disk cat disk.vhd --offset 512 --length 512 | xxd
  vhdmount disk cat disk.vhd -o disk.raw`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		if flagCatOffset < 0 {
			return errors.Errorf("invalid offset %d", flagCatOffset)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		disk, err := openDisk(ctx, args[0], cfg)
		if err != nil {
			return err
		}
		defer disk.Close()

		var w io.Writer = os.Stdout
		if flagCatOutput != "-" {
			f, err := os.Create(flagCatOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		n, err := copyRange(ctx, w, disk, flagCatOffset, flagCatLength)
		if err != nil {
			return err
		}

		log.Debugf("wrote %d bytes", n)
		return nil
	},
}

// copyRange streams length bytes of disk starting at offset into w, one
// block at a time. A negative length copies to the end of the disk.
func copyRange(ctx context.Context, w io.Writer, disk *vhd.Disk, offset, length int64) (int64, error) {

	end := disk.Size()
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	if offset > end {
		offset = end
	}

	p := log.NewProgress("cat", "KiB", end-offset)

	var written int64
	chunk := disk.BlockSize()
	for pos := offset; pos < end; {

		n := chunk - pos%chunk
		if pos+n > end {
			n = end - pos
		}

		data, err := disk.Read(ctx, pos, int(n))
		if err != nil {
			p.Finish(false)
			return written, err
		}

		k, err := w.Write(data)
		written += int64(k)
		p.Increment(int64(k))
		if err != nil {
			p.Finish(false)
			return written, err
		}

		pos += int64(len(data))
	}

	p.Finish(true)

	return written, nil
}
