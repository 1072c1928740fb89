package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const tempPrefix = ".orgrag-upload-"

// FSStore keeps one directory per container under a root directory.
// Uploads are written to a temp file and renamed into place.
type FSStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) dir(container string) string {
	return filepath.Join(s.root, container)
}

func (s *FSStore) requireContainer(container string) error {
	info, err := os.Stat(s.dir(container))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	return err
}

func (s *FSStore) EnsureContainer(_ context.Context, container string) (bool, error) {
	if err := validateContainer(container); err != nil {
		return false, err
	}
	err := os.Mkdir(s.dir(container), 0o700)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating container %s: %w", container, err)
	}
	return true, nil
}

func (s *FSStore) ContainerExists(_ context.Context, container string) (bool, error) {
	if err := validateContainer(container); err != nil {
		return false, err
	}
	err := s.requireContainer(container)
	if errors.Is(err, ErrContainerNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) DeleteContainer(_ context.Context, container string) error {
	if err := validateContainer(container); err != nil {
		return err
	}
	if err := s.requireContainer(container); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir(container)); err != nil {
		return fmt.Errorf("deleting container %s: %w", container, err)
	}
	return nil
}

func (s *FSStore) ListContainers(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && validateContainer(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FSStore) Upload(_ context.Context, container, name string, data []byte) error {
	if err := validateBlob(container, name); err != nil {
		return err
	}
	if err := s.requireContainer(container); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir(container), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing blob %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir(container), name)); err != nil {
		return fmt.Errorf("committing blob %s: %w", name, err)
	}

	s.logger.Debug("blob uploaded",
		zap.String("container", container),
		zap.String("blob", name),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func (s *FSStore) Download(_ context.Context, container, name string) ([]byte, error) {
	if err := validateBlob(container, name); err != nil {
		return nil, err
	}
	if err := s.requireContainer(container); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(container), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
	}
	return data, err
}

func (s *FSStore) List(_ context.Context, container string) ([]BlobInfo, error) {
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	if err := s.requireContainer(container); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(container))
	if err != nil {
		return nil, fmt.Errorf("listing container %s: %w", container, err)
	}

	blobs := make([]BlobInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		blobs = append(blobs, BlobInfo{Name: e.Name(), Size: info.Size()})
	}
	return blobs, nil
}

func (s *FSStore) Delete(_ context.Context, container, name string) error {
	if err := validateBlob(container, name); err != nil {
		return err
	}
	if err := s.requireContainer(container); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir(container), name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
	}
	return err
}

func (s *FSStore) Count(ctx context.Context, container string) (int, error) {
	blobs, err := s.List(ctx, container)
	if err != nil {
		return 0, err
	}
	return len(blobs), nil
}

// Close is a no-op.
func (s *FSStore) Close() error { return nil }

var _ Store = (*FSStore)(nil)
