package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdmount/pkg/elog"
)

var log elog.View = elog.Discard

var (
	flagJSON    bool
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
)

var initOnce sync.Once

// InitializeCommands assembles the command tree. It is safe to call more
// than once.
func InitializeCommands() {
	initOnce.Do(initializeCommands)
}

func initializeCommands() {

	// setup logging across all commands
	RootCommand.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output, including every filesystem call")
	RootCommand.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	RootCommand.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	RootCommand.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default is $HOME/.vhdmount.yaml)")
	addStorageFlags(RootCommand.PersistentFlags())

	RootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}

		if flagJSON {
			logger.DisableTTY = true
			elog.IsJSON = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}

		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger

		return initConfig(flagConfig, log)
	}

	bindFlags()

	// Here we define some hidden top-level shortcuts.
	RootCommand.AddCommand(commandShortcut(infoCmd))
	RootCommand.AddCommand(commandShortcut(partitionsCmd))
	RootCommand.AddCommand(commandShortcut(catCmd))

	// Here is the visible command structure definition.
	RootCommand.AddCommand(diskCmd)
	RootCommand.AddCommand(versionCmd)

	diskCmd.AddCommand(infoCmd)
	diskCmd.AddCommand(partitionsCmd)
	diskCmd.AddCommand(catCmd)
}

func commandShortcut(cmd *cobra.Command) *cobra.Command {
	c := *cmd
	c.Aliases = []string{}
	c.Hidden = true
	return &c
}

var RootCommand = &cobra.Command{
	Use:   "vhdmount [flags] VHD [MOUNT_POINT]",
	Short: "Mount a dynamic VHD as a read-only filesystem",
	Long: `vhdmount exposes the virtual disk stored in a dynamic VHD image as a single
read-only file, without ever expanding the image. The image may be a local
file or an object in S3, Google Cloud Storage or Azure blob storage.

The mount point defaults to ./vhd-mount and is created if missing. The
filesystem stays mounted until the process is interrupted.`,
	Example: `  vhdmount disk.vhd
  vhdmount -v s3://images/disk.vhd /mnt/vhd
  vhdmount --partitions disk.vhd /mnt/vhd`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runMount,
}

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Commands for inspecting VHD images without mounting them",
	Long: `These commands read the metadata and contents of a VHD image directly. They
accept the same image locations as the mount command.`,
	Aliases: []string{"image", "vhd"},
}

var flagVersionFormat string

func versionRows() [][]string {
	return [][]string{
		{"FIELD", "VALUE"},
		{"version", release},
		{"ref", commit},
		{"released", date},
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "View CLI version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {

		format := flagVersionFormat
		if format == "" && flagJSON {
			format = "json"
		}

		switch format {
		case "json":
			return printJSON(versionRows())
		case "", "plain":
			for _, row := range versionRows()[1:] {
				fmt.Printf("%s: %s\n", strings.Title(row[0]), row[1])
			}
			return nil
		default:
			return fmt.Errorf("invalid format '%s' (use json or plain)", format)
		}
	},
}

func init() {
	versionCmd.Flags().StringVar(&flagVersionFormat, "format", "", "output format (json, plain)")
}
