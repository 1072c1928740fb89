package blobstore

import (
	"fmt"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"go.uber.org/zap"
)

// New builds the Store selected by cfg.Provider.
func New(cfg config.BlobStoreConfig, logger *zap.Logger) (Store, error) {
	path, err := config.ExpandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding blob store path: %w", err)
	}
	switch cfg.Provider {
	case "fs":
		return NewFSStore(path, logger)
	case "badger":
		return OpenBadgerStore(path, logger)
	default:
		return nil, fmt.Errorf("%w: unknown blob store provider %q", config.ErrConfiguration, cfg.Provider)
	}
}
