package vectorindex

import (
	"fmt"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"go.uber.org/zap"
)

// New builds the Index selected by cfg.Provider.
func New(cfg config.VectorIndexConfig, logger *zap.Logger) (Index, error) {
	switch cfg.Provider {
	case "chromem":
		path, err := config.ExpandHome(cfg.Chromem.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding chromem path: %w", err)
		}
		return NewChromemIndex(ChromemConfig{
			Path:          path,
			Compress:      cfg.Chromem.Compress,
			Dimension:     cfg.Dimension,
			SupportsMerge: cfg.MergeSupported(),
		}, logger)
	case "qdrant":
		return NewQdrantIndex(QdrantConfig{
			Host:          cfg.Qdrant.Host,
			Port:          cfg.Qdrant.Port,
			UseTLS:        cfg.Qdrant.UseTLS,
			APIKey:        cfg.Qdrant.APIKey.Value(),
			Dimension:     cfg.Dimension,
			SupportsMerge: cfg.MergeSupported(),
			MaxRetries:    cfg.Qdrant.MaxRetries,
			RetryBackoff:  cfg.Qdrant.RetryBackoff.Duration(),
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector index provider %q", config.ErrConfiguration, cfg.Provider)
	}
}
