package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudfoundry/bytefmt"
	"github.com/google/uuid"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdmount/pkg/container"
	"github.com/vorteil/vhdmount/pkg/vhd"
)

var infoCmd = &cobra.Command{
	Use:   "info VHD",
	Short: "Print the footer, header and allocation summary of a VHD",
	Long: `Print the metadata of a VHD image. Fixed and differencing images are
described too, even though only dynamic images can be mounted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()

		src, err := container.Open(ctx, args[0], cfg.containerOptions())
		if err != nil {
			return err
		}
		defer src.Close()

		md, err := vhd.ReadMetadata(ctx, src, cfg.diskOptions(log))
		if err != nil {
			return err
		}

		var bat vhd.BAT
		if md.Header != nil && md.Footer.DiskType == vhd.DiskTypeDynamic {
			bat, err = vhd.LoadBAT(ctx, src, md.Header)
			if err != nil {
				return err
			}
		}

		rows := describe(src.Size(), md, bat)
		if flagJSON {
			return printJSON(rows)
		}

		PlainTable(rows)
		return nil
	},
}

func sizeString(n int64) string {
	return fmt.Sprintf("%s (%d bytes)", bytefmt.ByteSize(uint64(n)), n)
}

func checksumString(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func fourCC(b [4]byte) string {
	return strings.TrimRight(string(b[:]), "\x00 ")
}

// describe flattens the metadata of an image into FIELD/VALUE rows.
func describe(containerSize int64, md *vhd.Metadata, bat vhd.BAT) [][]string {

	f := md.Footer

	rows := [][]string{
		{"FIELD", "VALUE"},
		{"Disk type", f.DiskType.String()},
		{"Virtual size", sizeString(int64(f.CurrentSize()))},
		{"Container size", sizeString(containerSize)},
		{"Footer offset", fmt.Sprintf("%d", md.FooterOffset)},
		{"Footer checksum", checksumString(f.ChecksumValid())},
		{"Created", f.Time().UTC().Format(time.RFC3339)},
		{"Creator", fmt.Sprintf("%s %d.%d (%s)", fourCC(f.CreatorApplication), f.CreatorVersion>>16, f.CreatorVersion&0xFFFF, fourCC(f.CreatorHostOS))},
		{"Geometry", f.Geometry().String()},
		{"Unique ID", uuid.UUID(f.UniqueID).String()},
	}

	h := md.Header
	if h == nil {
		return rows
	}

	rows = append(rows,
		[]string{"Block size", sizeString(int64(h.BlockSize))},
		[]string{"Table offset", fmt.Sprintf("%d", h.TableOffset)},
		[]string{"Table entries", fmt.Sprintf("%d", h.MaxTableEntries)},
		[]string{"Header checksum", checksumString(h.ChecksumValid())},
	)

	if f.DiskType == vhd.DiskTypeDifferencing {
		rows = append(rows,
			[]string{"Parent", h.ParentName()},
			[]string{"Parent ID", uuid.UUID(h.ParentUniqueID).String()},
		)
	}

	if bat != nil {
		allocated := bat.Allocated()
		rows = append(rows,
			[]string{"Allocated blocks", fmt.Sprintf("%d / %d", allocated, len(bat))},
			[]string{"Allocated data", sizeString(int64(allocated) * int64(h.BlockSize))},
		)
	}

	return rows
}

// printJSON writes FIELD/VALUE rows as a single JSON object.
func printJSON(rows [][]string) error {
	obj := make(map[string]string)
	for _, row := range rows[1:] {
		obj[row[0]] = row[1]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "\t")
	return enc.Encode(obj)
}

// PlainTable prints data in a grid, handling alignment automatically. The
// first row is the header.
func PlainTable(vals [][]string) {
	if len(vals) == 0 {
		panic("no rows provided")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for i := 0; i < len(vals); i++ {
		table.Append(vals[i])
	}

	table.Render()
}
