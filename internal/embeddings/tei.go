package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TEIConfig configures the Text-Embeddings-Inference client.
type TEIConfig struct {
	// BaseURL is the TEI server root, e.g. http://localhost:8080.
	BaseURL string

	// Model labels metrics; TEI serves a single model.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	Dimension int

	// Timeout bounds each request. Zero means 60s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEIService calls the /embed endpoint of a TEI server.
type TEIService struct {
	config  TEIConfig
	client  *http.Client
	metrics *Metrics
	logger  *zap.Logger
}

// NewTEIService creates a TEI client with the given configuration.
func NewTEIService(cfg TEIConfig, logger *zap.Logger) (*TEIService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &TEIService{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: NewMetrics(logger),
		logger:  logger,
	}, nil
}

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts in one request.
func (s *TEIService) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err = s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err = checkVectors(vectors, len(texts), s.config.Dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *TEIService) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vectors, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err = checkVectors(vectors, 1, s.config.Dimension); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *TEIService) embed(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

// Dimension returns the configured vector width.
func (s *TEIService) Dimension() int { return s.config.Dimension }

// Close is a no-op for TEI since it uses HTTP.
func (s *TEIService) Close() error { return nil }

var _ Provider = (*TEIService)(nil)
