package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned while opening or reading a VHD. Mount-time failures wrap
// ErrMalformedContainer, ErrInvalidBlockSize or ErrUnsupportedDiskType;
// read-time failures match ErrIO.
var (
	ErrMalformedContainer  = errors.New("malformed vhd container")
	ErrInvalidBlockSize    = errors.New("invalid vhd block size")
	ErrUnsupportedDiskType = errors.New("unsupported vhd disk type")
	ErrIO                  = errors.New("vhd container read failed")
)

// IOError describes a failed fetch from the backing container.
type IOError struct {
	Op     string
	Offset int64
	Length int
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d (%d bytes): %v", ErrIO, e.Op, e.Offset, e.Length, e.Err)
}

// Unwrap exposes the underlying container error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is makes every IOError match ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}
