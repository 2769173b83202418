package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/vorteil/vhdmount/pkg/vhd"
)

var (
	release = "0.0.0"
	commit  = ""
	date    = "Thu, 01 Jan 1970 00:00:00 +0000"
)

// Exit codes reported by HandleErrors.
const (
	ExitGeneral     = 1
	ExitMalformed   = 2
	ExitUnsupported = 3
	ExitIO          = 4
	ExitInterrupted = 130
)

// Each command executed may have a error message and status code
var errorStatusCode int
var errorStatusMessage error

// SetError sets the global variables for when the process exits to display accordingly
func SetError(err error, code int) {
	errorStatusCode = code
	errorStatusMessage = err
}

// HandleErrors exits the process with the status code recorded by SetError,
// if any. It is meant to be deferred from main, which is expected to have
// reported the error already.
func HandleErrors() {
	if errorStatusCode == 0 {
		return
	}
	os.Exit(errorStatusCode)
}

// LastError returns the error recorded by SetError.
func LastError() (int, error) {
	return errorStatusCode, errorStatusMessage
}

// ExitCode maps an error returned by a command to a process status code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vhd.ErrMalformedContainer), errors.Is(err, vhd.ErrInvalidBlockSize):
		return ExitMalformed
	case errors.Is(err, vhd.ErrUnsupportedDiskType):
		return ExitUnsupported
	case errors.Is(err, vhd.ErrIO):
		return ExitIO
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitGeneral
	}
}
