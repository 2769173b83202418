package container

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

type gcsReader struct {
	client *storage.Client
	obj    *storage.ObjectHandle
	bucket string
	name   string
	size   int64
}

// OpenGCS opens gs://bucket/name as a container. An empty credentials path
// falls back to application default credentials.
func OpenGCS(ctx context.Context, credentials, bucket, name string) (Reader, error) {

	var opts []option.ClientOption
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating gcs client")
	}

	obj := client.Bucket(bucket).Object(name)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "stat gs://%s/%s", bucket, name)
	}

	return &gcsReader{
		client: client,
		obj:    obj,
		bucket: bucket,
		name:   name,
		size:   attrs.Size,
	}, nil
}

func (r *gcsReader) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := checkRange(r, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	rdr, err := r.obj.NewRangeReader(ctx, offset, int64(length))
	if err != nil {
		return nil, errors.Wrapf(err, "get gs://%s/%s", r.bucket, r.name)
	}
	defer rdr.Close()

	return readFull(rdr, length)
}

func (r *gcsReader) Size() int64 {
	return r.size
}

func (r *gcsReader) Close() error {
	return r.client.Close()
}

func (r *gcsReader) String() string {
	return fmt.Sprintf("gs://%s/%s", r.bucket, r.name)
}
