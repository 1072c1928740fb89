// Package retrieval answers questions from a tenant's indexed documents.
//
// A question is embedded, matched against the tenant's vector index with
// an organization filter, and the hits are handed to the generation model
// as the only context it may answer from. When nothing matches, a fixed
// message is returned and the model is never called.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/embeddings"
	"github.com/fyrsmithlabs/orgrag/internal/llm"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultK is the number of chunks retrieved when the caller passes k <= 0.
const DefaultK = 3

var (
	// ErrUpstream wraps failures of the embedding service, the vector index
	// or the generation model.
	ErrUpstream = errors.New("upstream service error")

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question cannot be empty")
)

var tracer = otel.Tracer("orgrag.retrieval")

// Answer is the outcome of Ask.
type Answer struct {
	Text     string               `json:"answer"`
	Sources  []vectorindex.Result `json:"sources"`
	Grounded bool                 `json:"grounded"`
}

// Config holds retrieval settings.
type Config struct {
	// MaxTokens bounds the generated answer. Zero means llm.DefaultMaxTokens.
	MaxTokens int
}

// Service runs the retrieval pipeline.
type Service struct {
	index     vectorindex.Index
	embedder  embeddings.Embedder
	generator llm.Generator
	maxTokens int
	logger    *zap.Logger
}

// NewService creates a retrieval service.
func NewService(cfg Config, index vectorindex.Index, embedder embeddings.Embedder, generator llm.Generator, logger *zap.Logger) (*Service, error) {
	if index == nil || embedder == nil || generator == nil {
		return nil, fmt.Errorf("%w: retrieval needs an index, an embedder and a generator", config.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	return &Service{
		index:     index,
		embedder:  embedder,
		generator: generator,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

// Search returns the k chunks of tenant's index nearest to query, in the
// order the index ranks them.
func (s *Service) Search(ctx context.Context, tenant, query string, k int) (results []vectorindex.Result, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	name, err := sanitize.ValidateTenantID(tenant)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = DefaultK
	}
	span.SetAttributes(attribute.String("tenant", tenant), attribute.Int("k", k))

	start := time.Now()
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrUpstream, err)
	}

	results, err = s.index.Search(ctx, name, vectorindex.SearchRequest{
		Vector: vector,
		K:      k,
		Filter: map[string]string{vectorindex.FieldOrganizationID: tenant},
	})
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: searching index %s: %w", ErrUpstream, name, err)
	}
	resultsReturned.Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// Ask answers question from tenant's documents. k <= 0 retrieves DefaultK
// chunks. The model output is returned verbatim.
func (s *Service) Ask(ctx context.Context, tenant, question string, k int) (answer *Answer, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.Ask")
	defer span.End()
	defer func() {
		switch {
		case err != nil:
			asks.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case answer.Grounded:
			asks.WithLabelValues("answered").Inc()
			span.SetStatus(codes.Ok, "answered")
		default:
			asks.WithLabelValues("no_results").Inc()
			span.SetStatus(codes.Ok, "no_results")
		}
	}()

	results, err := s.Search(ctx, tenant, question, k)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		s.logger.Info("no relevant documents",
			zap.String("tenant", tenant),
			zap.Int("k", k),
		)
		return &Answer{Text: NoResultsMessage(tenant), Sources: []vectorindex.Result{}}, nil
	}

	start := time.Now()
	text, err := s.generator.Complete(ctx,
		SystemPrompt(tenant),
		UserPrompt(tenant, BuildContext(results), question),
		llm.WithMaxTokens(s.maxTokens),
	)
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: generating answer: %w", ErrUpstream, err)
	}

	s.logger.Debug("answered question",
		zap.String("tenant", tenant),
		zap.Int("sources", len(results)),
		zap.Int("answer_length", len(text)),
	)
	return &Answer{Text: text, Sources: results, Grounded: true}, nil
}
