package container

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// S3Config configures access to an S3-compatible object store. Credentials
// come from the usual AWS environment and shared config files.
type S3Config struct {
	Region   string
	Endpoint string
}

type s3Reader struct {
	client s3iface.S3API
	bucket string
	key    string
	size   int64
}

// OpenS3 opens s3://bucket/key as a container using ranged GETs.
func OpenS3(ctx context.Context, cfg S3Config, bucket, key string) (Reader, error) {

	awsCfg := &aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}

	return newS3Reader(ctx, s3.New(sess), bucket, key)
}

func newS3Reader(ctx context.Context, client s3iface.S3API, bucket, key string) (*s3Reader, error) {

	out, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "stat s3://%s/%s", bucket, key)
	}

	return &s3Reader{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.Int64Value(out.ContentLength),
	}, nil
}

func (r *s3Reader) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := checkRange(r, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(httpRange(offset, length)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get s3://%s/%s", r.bucket, r.key)
	}
	defer out.Body.Close()

	return readFull(out.Body, length)
}

func (r *s3Reader) Size() int64 {
	return r.size
}

func (r *s3Reader) Close() error {
	return nil
}

func (r *s3Reader) String() string {
	return fmt.Sprintf("s3://%s/%s", r.bucket, r.key)
}

func httpRange(offset int64, length int) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+int64(length)-1)
}

func readFull(r io.Reader, length int) ([]byte, error) {
	buf := make([]byte, length)
	_, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return nil, ErrShortRead
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}
