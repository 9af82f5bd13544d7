// Package azblob stores tiptree blocks as Azure Storage blobs.
package azblob

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/jrhy/tiptree"
)

// BlobAPI is the subset of *azblob.Client a Persist uses.
type BlobAPI interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// Persist implements the tiptree.Persist interface for storing and loading
// blocks as blobs in one container.
type Persist struct {
	client    BlobAPI
	Container string
	Prefix    string
}

// Load loads the bytes of the named blob.
func (p *Persist) Load(ctx context.Context, name string) ([]byte, error) {
	resp, err := p.client.DownloadStream(ctx, p.Container, p.Prefix+name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("blob %s: %w", p.Prefix+name, tiptree.ErrNotFound)
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Store uploads the bytes as the named blob, unless it exists already.
func (p *Persist) Store(ctx context.Context, name string, b []byte) error {
	_, err := p.client.UploadBuffer(ctx, p.Container, p.Prefix+name, b, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	})
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return nil
	}
	return err
}

// NewPersist returns a Persist that loads and stores blocks as blobs
// named prefix+name in the given container.
func NewPersist(client BlobAPI, container, prefix string) *Persist {
	return &Persist{client, container, prefix}
}
