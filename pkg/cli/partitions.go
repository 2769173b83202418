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

	"github.com/cloudfoundry/bytefmt"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdmount/pkg/partitions"
	"github.com/vorteil/vhdmount/pkg/vhdfs"
)

var partitionsCmd = &cobra.Command{
	Use:     "partitions VHD",
	Short:   "List the partitions of the virtual disk inside a VHD",
	Aliases: []string{"parts"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		disk, err := openDisk(context.Background(), args[0], cfg)
		if err != nil {
			return err
		}
		defer disk.Close()

		table, err := partitions.Read(disk)
		if err != nil {
			return err
		}

		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "\t")
			return enc.Encode(table)
		}

		if len(table.Partitions) == 0 {
			log.Printf("%s partition table has no partitions", table.Type)
			return nil
		}

		PlainTable(partitionRows(table))
		return nil
	},
}

func partitionRows(table *partitions.Table) [][]string {
	rows := [][]string{{"#", "FILE", "TYPE", "NAME", "START", "SIZE"}}
	for _, p := range table.Partitions {
		rows = append(rows, []string{
			fmt.Sprintf("%d", p.Index),
			partitions.Name(vhdfs.DefaultName, p),
			p.Type,
			p.Name,
			fmt.Sprintf("%d", p.Start),
			bytefmt.ByteSize(uint64(p.Size)),
		})
	}
	return rows
}
