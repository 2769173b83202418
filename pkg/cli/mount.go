package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdmount/pkg/container"
	"github.com/vorteil/vhdmount/pkg/partitions"
	"github.com/vorteil/vhdmount/pkg/vhd"
	"github.com/vorteil/vhdmount/pkg/vhdfs"
)

const defaultMountPoint = "./vhd-mount"

var flagFuseDebug bool

func init() {
	f := RootCommand.Flags()
	f.Bool("allow-other", false, "allow other users to access the mounted filesystem")
	f.Bool("partitions", false, "also expose each partition of the virtual disk as its own file")
	f.BoolVar(&flagFuseDebug, "fuse-debug", false, "trace the FUSE protocol")
}

// openDisk opens the image at location and parses it as a dynamic VHD.
func openDisk(ctx context.Context, location string, cfg *Config) (*vhd.Disk, error) {

	src, err := container.Open(ctx, location, cfg.containerOptions())
	if err != nil {
		return nil, err
	}

	disk, err := vhd.Open(ctx, src, cfg.diskOptions(log))
	if err != nil {
		_ = src.Close()
		return nil, errors.Wrapf(err, "opening '%s'", location)
	}

	return disk, nil
}

// partitionFiles returns one window per partition of disk, named after the
// file that exposes the whole disk. A disk without a partition table has
// none.
func partitionFiles(disk *vhd.Disk) map[string]vhdfs.Source {

	table, err := partitions.Read(disk)
	if err != nil {
		log.Warnf("not exposing partitions: %v", err)
		return nil
	}

	files := make(map[string]vhdfs.Source)
	for _, p := range table.Partitions {
		name := partitions.Name(vhdfs.DefaultName, p)
		files[name] = partitions.Of(disk, p)
		log.Debugf("exposing %s partition %d as %s", table.Type, p.Index, name)
	}

	return files
}

func mountArgs(args []string) (location, dir string) {
	location = args[0]
	dir = defaultMountPoint
	if len(args) > 1 {
		dir = args[1]
	}
	return
}

func runMount(cmd *cobra.Command, args []string) error {

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	location, dir := mountArgs(args)

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return errors.Wrapf(err, "creating mount point '%s'", dir)
	}

	ctx := context.Background()

	disk, err := openDisk(ctx, location, cfg)
	if err != nil {
		return err
	}
	defer disk.Close()

	var extra map[string]vhdfs.Source
	if cfg.Mount.Partitions {
		extra = partitionFiles(disk)
	}

	m, err := vhdfs.NewMount(dir, disk, vhdfs.Config{
		FsName:     location,
		Verbose:    cfg.Verbose,
		AllowOther: cfg.Mount.AllowOther,
		Debug:      flagFuseDebug,
		Logger:     log,
		Extra:      extra,
	})
	if err != nil {
		return err
	}

	log.Printf("mounted %s on %s", location, dir)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	serve(m, dir, sigs)

	return nil
}

type mounted interface {
	Unmount() error
	Wait()
}

// serve blocks until the filesystem is unmounted, either externally or
// after a signal. A failed unmount is logged and the next signal retries it.
func serve(m mounted, dir string, sigs <-chan os.Signal) {

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

wait:
	for {
		select {
		case sig := <-sigs:
			log.Infof("received %s, unmounting %s", sig, dir)
			err := m.Unmount()
			if err != nil {
				log.Errorf("%v (interrupt again to retry)", err)
				continue
			}
			<-done
			break wait
		case <-done:
			log.Debugf("%s was unmounted externally", dir)
			break wait
		}
	}

	log.Printf("bye")
}
