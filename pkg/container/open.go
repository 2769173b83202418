package container

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Options configures how Open reaches remote storage.
type Options struct {
	S3             S3Config
	GCSCredentials string
	Azure          AzureConfig

	// MaxInFlight bounds concurrent fetches against the container. Zero
	// leaves reads unbounded.
	MaxInFlight int
}

// Open resolves location to a container. Plain paths and file:// URLs are
// opened locally; s3://bucket/key, gs://bucket/object and Azure blob URLs
// (https://<account>.blob.core.windows.net/...) are read remotely.
func Open(ctx context.Context, location string, opts Options) (Reader, error) {

	r, err := open(ctx, location, opts)
	if err != nil {
		return nil, err
	}

	return Limit(r, opts.MaxInFlight), nil
}

func open(ctx context.Context, location string, opts Options) (Reader, error) {

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || isWindowsDrive(u.Scheme) {
		return OpenFile(location)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return OpenFile(filepath.FromSlash(u.Path))
	case "s3":
		bucket, key, err := splitObjectURL(u)
		if err != nil {
			return nil, err
		}
		return OpenS3(ctx, opts.S3, bucket, key)
	case "gs":
		bucket, key, err := splitObjectURL(u)
		if err != nil {
			return nil, err
		}
		return OpenGCS(ctx, opts.GCSCredentials, bucket, key)
	case "https", "http":
		if strings.HasSuffix(u.Hostname(), ".blob.core.windows.net") {
			return OpenAzure(ctx, opts.Azure, u)
		}
	}

	return nil, errors.Errorf("unsupported container location '%s'", location)
}

func splitObjectURL(u *url.URL) (string, string, error) {
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.Errorf("'%s' must name both a bucket and an object", u.String())
	}
	return u.Host, key, nil
}

func isWindowsDrive(scheme string) bool {
	return runtime.GOOS == "windows" && len(scheme) == 1
}
