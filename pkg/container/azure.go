package container

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
)

// AzureConfig holds shared-key credentials for a storage account. Leaving
// both fields empty reads the blob anonymously, which suits public blobs and
// SAS URLs.
type AzureConfig struct {
	AccountName string
	AccountKey  string
}

type azureReader struct {
	blob azblob.BlobURL
	u    *url.URL
	size int64
}

// OpenAzure opens the page or block blob at u as a container.
func OpenAzure(ctx context.Context, cfg AzureConfig, u *url.URL) (Reader, error) {

	var creds azblob.Credential
	if cfg.AccountName != "" || cfg.AccountKey != "" {
		shared, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, errors.Wrap(err, "azure credentials")
		}
		creds = shared
	} else {
		creds = azblob.NewAnonymousCredential()
	}

	pi := azblob.NewPipeline(creds, azblob.PipelineOptions{})
	blob := azblob.NewBlobURL(*u, pi)

	props, err := blob.GetProperties(ctx, azblob.BlobAccessConditions{})
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", u.String())
	}

	return &azureReader{
		blob: blob,
		u:    u,
		size: props.ContentLength(),
	}, nil
}

func (r *azureReader) ReadRange(ctx context.Context, offset int64, length int) ([]byte, error) {
	if err := checkRange(r, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	resp, err := r.blob.Download(ctx, offset, int64(length), azblob.BlobAccessConditions{}, false)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", r.u.String())
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	return readFull(body, length)
}

func (r *azureReader) Size() int64 {
	return r.size
}

func (r *azureReader) Close() error {
	return nil
}

func (r *azureReader) String() string {
	return r.u.String()
}
