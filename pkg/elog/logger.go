// Package elog defines the logging and progress interfaces used across
// vhdmount, along with a logrus-backed implementation for the command line.
package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"io/ioutil"
)

type LogLevel uint32

const (
	ErrorLevel LogLevel = iota
	WarnLevel
	InfoLevel
	DebugLevel
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	IsLogLevelEnabled(level LogLevel) bool
	Printf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Progress tracks a long-running transfer. Finish must be called exactly
// once; later calls are ignored.
type Progress interface {
	Increment(n int64)
	ProxyReader(r io.Reader) io.ReadCloser
	Finish(success bool)
}

// View is a Logger that can also display progress.
type View interface {
	Logger
	NewProgress(label string, units string, total int64) Progress
}

// Discard is a View that drops everything.
var Discard View = discard{}

type discard struct{}

func (discard) Debugf(string, ...interface{}) {}
func (discard) Errorf(string, ...interface{}) {}
func (discard) Infof(string, ...interface{}) {}
func (discard) IsLogLevelEnabled(LogLevel) bool { return false }
func (discard) Printf(string, ...interface{}) {}
func (discard) Warnf(string, ...interface{}) {}
func (discard) NewProgress(string, string, int64) Progress { return nopProgress{} }

type nopProgress struct{}

func (nopProgress) Increment(int64) {}
func (nopProgress) ProxyReader(r io.Reader) io.ReadCloser {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc
	}
	return ioutil.NopCloser(r)
}
func (nopProgress) Finish(bool) {}
