// Package app is the composition root. It builds every collaborator from
// config.Config and exposes the operations served by the HTTP API and
// the CLI.
//
// Every operation is synchronous and takes the raw tenant id; resource
// names are derived from it by the sanitize package.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/embeddings"
	"github.com/fyrsmithlabs/orgrag/internal/extract"
	"github.com/fyrsmithlabs/orgrag/internal/ingest"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/llm"
	"github.com/fyrsmithlabs/orgrag/internal/retrieval"
	"github.com/fyrsmithlabs/orgrag/internal/scraper"
	"github.com/fyrsmithlabs/orgrag/internal/tenant"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"go.uber.org/zap"
)

// Dependencies are the external collaborators. New builds them from
// config; tests supply their own through NewWithDependencies.
type Dependencies struct {
	Index     vectorindex.Index
	Blobs     blobstore.Store
	Records   knowledge.Store
	Embedder  embeddings.Provider
	Generator llm.Generator
	Scraper   scraper.Scraper
}

// close releases whatever was opened, in reverse order of construction.
func (d *Dependencies) close() error {
	var errs []error
	if d.Embedder != nil {
		errs = append(errs, d.Embedder.Close())
	}
	if d.Records != nil {
		errs = append(errs, d.Records.Close())
	}
	if d.Blobs != nil {
		errs = append(errs, d.Blobs.Close())
	}
	if d.Index != nil {
		errs = append(errs, d.Index.Close())
	}
	return errors.Join(errs...)
}

// App holds the wired services.
type App struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger

	knowledge *knowledge.Service
	tenants   *tenant.Manager
	pipeline  *ingest.Pipeline
	retrieval *retrieval.Service
}

// New validates cfg and connects every collaborator it names.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a, err := NewWithDependencies(cfg, deps, logger)
	if err != nil {
		_ = deps.close()
		return nil, err
	}
	return a, nil
}

func buildDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (deps Dependencies, err error) {
	defer func() {
		if err != nil {
			_ = deps.close()
		}
	}()

	if deps.Index, err = vectorindex.New(cfg.VectorIndex, logger.Named("vectorindex")); err != nil {
		return deps, fmt.Errorf("initializing vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("provider", cfg.VectorIndex.Provider),
		zap.Int("dimension", cfg.VectorIndex.Dimension),
		zap.Bool("supports_merge", deps.Index.SupportsMerge()),
	)

	if deps.Blobs, err = blobstore.New(cfg.BlobStore, logger.Named("blobstore")); err != nil {
		return deps, fmt.Errorf("initializing blob store: %w", err)
	}

	records, err := knowledge.Open(ctx, cfg.Records, logger.Named("knowledge"))
	if err != nil {
		return deps, fmt.Errorf("opening record store: %w", err)
	}
	deps.Records = records

	if deps.Embedder, err = embeddings.NewProvider(cfg.Embeddings, logger.Named("embeddings")); err != nil {
		return deps, fmt.Errorf("initializing embeddings: %w", err)
	}
	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
	)

	if deps.Generator, err = llm.NewOpenAIGenerator(llm.ConfigFrom(cfg.Generation), logger.Named("llm")); err != nil {
		return deps, fmt.Errorf("initializing generation: %w", err)
	}

	deps.Scraper = scraper.NewHTTPScraper(scraper.ConfigFrom(cfg.Scraper), nil, logger.Named("scraper"))
	return deps, nil
}

// NewWithDependencies wires the services over deps. The App takes
// ownership of deps and closes them in Close.
func NewWithDependencies(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Records == nil {
		return nil, fmt.Errorf("%w: record store required", config.ErrConfiguration)
	}

	a := &App{cfg: cfg, deps: deps, logger: logger}
	a.knowledge = knowledge.NewService(deps.Records, logger.Named("knowledge"))

	var err error
	a.tenants, err = tenant.NewManager(deps.Index, deps.Blobs, deps.Records, cfg.VectorIndex.Dimension, logger.Named("tenant"))
	if err != nil {
		return nil, err
	}

	a.pipeline, err = ingest.NewPipeline(ingest.ConfigFrom(cfg.Ingest), ingest.Dependencies{
		Namespaces: a.tenants,
		Index:      deps.Index,
		Embedder:   deps.Embedder,
		Knowledge:  a.knowledge,
		Blobs:      deps.Blobs,
		Extractors: extract.NewRegistry(logger.Named("extract")),
		Scraper:    deps.Scraper,
	}, logger.Named("ingest"))
	if err != nil {
		return nil, err
	}

	a.retrieval, err = retrieval.NewService(retrieval.Config{MaxTokens: cfg.Generation.MaxTokens},
		deps.Index, deps.Embedder, deps.Generator, logger.Named("retrieval"))
	if err != nil {
		a.pipeline.Close()
		return nil, err
	}
	return a, nil
}

// Close stops the worker pool and releases every collaborator.
func (a *App) Close() error {
	a.pipeline.Close()
	return a.deps.close()
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// ChunkDefaults returns the configured chunk size and overlap.
func (a *App) ChunkDefaults() (size, overlap int) {
	return a.cfg.Ingest.ChunkSize, a.cfg.Ingest.Overlap
}

// Tenants returns the tenant lifecycle manager.
func (a *App) Tenants() *tenant.Manager { return a.tenants }

// Pipeline returns the ingestion pipeline.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// Retrieval returns the retrieval service.
func (a *App) Retrieval() *retrieval.Service { return a.retrieval }

// Knowledge returns the knowledge record service.
func (a *App) Knowledge() *knowledge.Service { return a.knowledge }
