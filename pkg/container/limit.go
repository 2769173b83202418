package container

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type limited struct {
	Reader
	sem *semaphore.Weighted
}

// Limit bounds the number of ReadRange calls in flight against r. A limit
// of zero or less returns r unchanged.
func Limit(r Reader, n int) Reader {
	if n <= 0 {
		return r
	}
	return &limited{
		Reader: r,
		sem:    semaphore.NewWeighted(int64(n)),
	}
}

// Serialize allows one ReadRange call at a time, for handles that cannot
// service concurrent positioned reads.
func Serialize(r Reader) Reader {
	return Limit(r, 1)
}

func (l *limited) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.Reader.ReadRange(ctx, offset, length)
}
