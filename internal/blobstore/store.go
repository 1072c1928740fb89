// Package blobstore keeps the original bytes of ingested files, one
// container per tenant. Containers are named by the tenant's canonical
// resource name.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
)

var (
	// ErrContainerNotFound is returned when the container does not exist.
	ErrContainerNotFound = errors.New("container not found")

	// ErrBlobNotFound is returned when the blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidContainerName is returned for names that are not canonical.
	ErrInvalidContainerName = errors.New("invalid container name")
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Store is the object store collaborator.
type Store interface {
	// EnsureContainer creates the container if needed and reports whether
	// it was created by this call.
	EnsureContainer(ctx context.Context, container string) (bool, error)
	ContainerExists(ctx context.Context, container string) (bool, error)
	DeleteContainer(ctx context.Context, container string) error
	ListContainers(ctx context.Context) ([]string, error)

	// Upload writes data under name, overwriting any existing blob.
	Upload(ctx context.Context, container, name string, data []byte) error
	Download(ctx context.Context, container, name string) ([]byte, error)
	List(ctx context.Context, container string) ([]BlobInfo, error)
	Delete(ctx context.Context, container, name string) error
	Count(ctx context.Context, container string) (int, error)

	Close() error
}

func validateContainer(container string) error {
	if container == "" || sanitize.Name(container) != container {
		return fmt.Errorf("%w: %q", ErrInvalidContainerName, container)
	}
	return nil
}

func validateBlob(container, name string) error {
	if err := validateContainer(container); err != nil {
		return err
	}
	return sanitize.ValidateBlobName(name)
}
