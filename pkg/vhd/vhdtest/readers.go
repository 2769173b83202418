package vhdtest

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/vorteil/vhdmount/pkg/container"
)

// ErrInjected is returned by FaultyReader for failing ranges.
var ErrInjected = errors.New("injected container failure")

// Memory wraps an image as a container.
func Memory(img []byte) container.Reader {
	return container.FromReaderAt("memory", bytes.NewReader(img), int64(len(img)))
}

// CountingReader records every fetch made through it.
type CountingReader struct {
	container.Reader
	fetches int64

	lock    sync.Mutex
	offsets []int64
}

func NewCountingReader(img []byte) *CountingReader {
	return &CountingReader{Reader: Memory(img)}
}

func (c *CountingReader) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	atomic.AddInt64(&c.fetches, 1)
	c.lock.Lock()
	c.offsets = append(c.offsets, offset)
	c.lock.Unlock()
	return c.Reader.ReadRange(ctx, offset, length)
}

// Fetches is the number of ReadRange calls so far.
func (c *CountingReader) Fetches() int64 {
	return atomic.LoadInt64(&c.fetches)
}

// Offsets lists the offsets of every fetch in call order.
func (c *CountingReader) Offsets() []int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]int64(nil), c.offsets...)
}

// Reset zeroes the counters.
func (c *CountingReader) Reset() {
	atomic.StoreInt64(&c.fetches, 0)
	c.lock.Lock()
	c.offsets = nil
	c.lock.Unlock()
}

// FaultyReader fails any fetch that overlaps [From, To).
type FaultyReader struct {
	container.Reader
	From, To int64
}

func NewFaultyReader(img []byte, from, to int64) *FaultyReader {
	return &FaultyReader{Reader: Memory(img), From: from, To: to}
}

func (f *FaultyReader) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	if offset < f.To && offset+int64(length) > f.From {
		return nil, ErrInjected
	}
	return f.Reader.ReadRange(ctx, offset, length)
}
