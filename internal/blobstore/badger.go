package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// Key layout:
//
//	c/<container>         -> creation time (RFC 3339)
//	b/<container>/<blob>  -> blob bytes
const (
	containerPrefix = "c/"
	blobPrefix      = "b/"
)

func containerKey(container string) []byte {
	return []byte(containerPrefix + container)
}

func blobKey(container, name string) []byte {
	return []byte(blobPrefix + container + "/" + name)
}

func blobKeyPrefix(container string) []byte {
	return []byte(blobPrefix + container + "/")
}

// BadgerStore keeps containers and blobs in one embedded badger database.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l badgerLogger) Errorf(msg string, args ...any)   { l.s.Errorf(strings.TrimSpace(msg), args...) }
func (l badgerLogger) Warningf(msg string, args ...any) { l.s.Warnf(strings.TrimSpace(msg), args...) }
func (l badgerLogger) Infof(msg string, args ...any)    { l.s.Debugf(strings.TrimSpace(msg), args...) }
func (l badgerLogger) Debugf(msg string, args ...any)   { l.s.Debugf(strings.TrimSpace(msg), args...) }

// OpenBadgerStore opens the database at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating badger directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = badgerLogger{s: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func hasContainer(txn *badger.Txn, container string) error {
	_, err := txn.Get(containerKey(container))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	return err
}

func (s *BadgerStore) EnsureContainer(_ context.Context, container string) (created bool, err error) {
	if err := validateContainer(container); err != nil {
		return false, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		err := hasContainer(txn, container)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrContainerNotFound) {
			return err
		}
		created = true
		return txn.Set(containerKey(container), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	return created, err
}

func (s *BadgerStore) ContainerExists(_ context.Context, container string) (bool, error) {
	if err := validateContainer(container); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error { return hasContainer(txn, container) })
	if errors.Is(err, ErrContainerNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) DeleteContainer(_ context.Context, container string) error {
	if err := validateContainer(container); err != nil {
		return err
	}
	if err := s.db.View(func(txn *badger.Txn) error { return hasContainer(txn, container) }); err != nil {
		return err
	}
	// DropPrefix is not bounded by transaction size limits.
	if err := s.db.DropPrefix(blobKeyPrefix(container)); err != nil {
		return fmt.Errorf("dropping blobs of %s: %w", container, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(containerKey(container))
	})
}

func (s *BadgerStore) ListContainers(context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(containerPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), containerPrefix))
		}
		return nil
	})
	if names == nil {
		names = []string{}
	}
	return names, err
}

func (s *BadgerStore) Upload(_ context.Context, container, name string, data []byte) error {
	if err := validateBlob(container, name); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := hasContainer(txn, container); err != nil {
			return err
		}
		// badger keeps a reference to the value until commit.
		buf := make([]byte, len(data))
		copy(buf, data)
		return txn.Set(blobKey(container, name), buf)
	})
}

func (s *BadgerStore) Download(_ context.Context, container, name string) ([]byte, error) {
	if err := validateBlob(container, name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		if err := hasContainer(txn, container); err != nil {
			return err
		}
		item, err := txn.Get(blobKey(container, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (s *BadgerStore) List(_ context.Context, container string) ([]BlobInfo, error) {
	if err := validateContainer(container); err != nil {
		return nil, err
	}
	blobs := []BlobInfo{}
	err := s.db.View(func(txn *badger.Txn) error {
		if err := hasContainer(txn, container); err != nil {
			return err
		}
		prefix := blobKeyPrefix(container)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			blobs = append(blobs, BlobInfo{
				Name: strings.TrimPrefix(string(item.Key()), string(prefix)),
				Size: item.ValueSize(),
			})
		}
		return nil
	})
	return blobs, err
}

func (s *BadgerStore) Delete(_ context.Context, container, name string) error {
	if err := validateBlob(container, name); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := hasContainer(txn, container); err != nil {
			return err
		}
		key := blobKey(container, name)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, name)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (s *BadgerStore) Count(ctx context.Context, container string) (int, error) {
	blobs, err := s.List(ctx, container)
	if err != nil {
		return 0, err
	}
	return len(blobs), nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
