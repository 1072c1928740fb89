package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = fmt.Errorf("%w: invalid embeddings settings", config.ErrConfiguration)

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates the provider returned vectors whose
	// width differs from the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder bound to a fixed output dimension.
type Provider interface {
	Embedder
	// Dimension returns the vector width every call is checked against.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates the provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	switch cfg.Provider {
	case "tei":
		return NewTEIService(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		}, logger)
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// checkVectors verifies count and width of a provider response.
func checkVectors(vectors [][]float32, want, dimension int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, index expects %d",
				ErrDimensionMismatch, i, len(v), dimension)
		}
	}
	return nil
}
