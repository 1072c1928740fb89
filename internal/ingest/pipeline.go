package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/chunker"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/embeddings"
	"github.com/fyrsmithlabs/orgrag/internal/extract"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/scraper"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("orgrag.ingest")

// Config holds pipeline settings.
type Config struct {
	// Workers bounds concurrent item preparation. Zero means NumCPU/2,
	// at least one.
	Workers int

	// AllowedDirs restricts IngestDirectory to directories inside one of
	// these roots. Empty means any directory.
	AllowedDirs []string
}

// ConfigFrom maps the ingest section of the application config.
func ConfigFrom(cfg config.IngestConfig) Config {
	return Config{Workers: cfg.Workers, AllowedDirs: cfg.AllowedDirs}
}

// NamespaceResolver maps a tenant id to its canonical name, rejecting ids
// that collide with another tenant's claim. tenant.Manager satisfies it.
type NamespaceResolver interface {
	Resolve(ctx context.Context, tenant string) (string, error)
}

// Dependencies are the collaborators a Pipeline writes through. Index,
// Embedder and Knowledge are required. Blobs and Extractors are needed by
// IngestDirectory, Scraper by IngestURL. Without Namespaces the tenant
// id is only validated.
type Dependencies struct {
	Namespaces NamespaceResolver
	Index      vectorindex.Index
	Embedder   embeddings.Embedder
	Knowledge  *knowledge.Service
	Blobs      blobstore.Store
	Extractors *extract.Registry
	Scraper    scraper.Scraper
}

// Pipeline ingests batches for tenants. It is safe for concurrent use;
// all batches share one worker pool.
type Pipeline struct {
	deps        Dependencies
	allowedDirs []string
	pool        *ants.Pool
	logger      *zap.Logger
	now         func() time.Time
}

// NewPipeline creates a pipeline and its worker pool. Call Close to
// release the pool.
func NewPipeline(cfg Config, deps Dependencies, logger *zap.Logger) (*Pipeline, error) {
	if deps.Index == nil || deps.Embedder == nil || deps.Knowledge == nil {
		return nil, fmt.Errorf("%w: ingest pipeline needs an index, an embedder and a knowledge service", config.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Extractors == nil {
		deps.Extractors = extract.NewRegistry(logger)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()/2)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating ingest pool: %w", err)
	}

	return &Pipeline{
		deps:        deps,
		allowedDirs: cfg.AllowedDirs,
		pool:        pool,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// prepared is one item after extract, chunk and embed.
type prepared struct {
	result  ItemResult
	index   []vectorindex.Document
	records []*knowledge.Document
	err     error
}

// Ingest runs one batch for tenant.
//
// Chunk settings are validated before any I/O. A batch that yields no
// chunks returns an empty Result and writes nothing. An index failure
// returns an ErrUpstream error and skips the record store. A record store
// failure after the index write returns the Result together with a
// *PartialWriteError.
func (p *Pipeline) Ingest(ctx context.Context, tenant string, batch Batch) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", tenant),
		attribute.Int("items", len(batch.Items)),
		attribute.Int("chunk_size", batch.ChunkSize),
		attribute.Int("overlap", batch.Overlap),
	)

	started := time.Now()
	defer func() {
		batchDuration.WithLabelValues(outcomeLabel(err)).Observe(time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	name, err := p.resolve(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if err := (chunker.Config{Size: batch.ChunkSize, Overlap: batch.Overlap}).Validate(); err != nil {
		return nil, err
	}

	items, err := p.prepare(ctx, tenant, batch)
	if err != nil {
		return nil, err
	}

	res = newResult(len(items))
	var (
		docs      []vectorindex.Document
		records   []*knowledge.Document
		processed int
	)
	for _, it := range items {
		res.Items = append(res.Items, it.result)
		if it.result.Skipped {
			itemsSkipped.WithLabelValues(sourceLabel(batch)).Inc()
			continue
		}
		processed++
		docs = append(docs, it.index...)
		records = append(records, it.records...)
	}

	if len(docs) == 0 {
		p.logger.Info("batch produced no chunks, nothing written",
			zap.String("tenant", tenant),
			zap.Int("items", len(batch.Items)),
		)
		span.SetStatus(codes.Ok, "empty")
		return res, nil
	}
	p.warnDuplicateIDs(tenant, docs)

	write, mode := p.deps.Index.Upsert, "upsert"
	if !p.deps.Index.SupportsMerge() {
		p.logger.Warn("vector index lacks merge support; inserting, re-runs may duplicate documents",
			zap.String("tenant", tenant),
			zap.String("index", name),
			zap.Int("documents", len(docs)),
		)
		degradedUpserts.Inc()
		res.Degraded = true
		write, mode = p.deps.Index.Insert, "insert"
	}

	ids, err := write(ctx, name, docs)
	if err != nil {
		return nil, fmt.Errorf("%w: writing %d documents to index %s: %w", ErrUpstream, len(docs), name, err)
	}
	res.IndexIDs = ids
	res.IndexWritten = true
	chunksIngested.Add(float64(len(ids)))
	span.SetAttributes(attribute.Int("chunks", len(ids)), attribute.String("write_mode", mode))

	batchResult, err := p.deps.Knowledge.ProcessBatch(ctx, knowledge.BatchRequest{
		OrganizationID: tenant,
		Name:           batch.SourceName,
		Description:    batch.SourceDescription,
		Configuration:  snapshot(batch, processed, len(records)),
		Documents:      records,
	})
	if batchResult != nil {
		res.SourceID = batchResult.SourceID
	}
	if err != nil {
		partialWrites.Inc()
		p.logger.Error("vector index and record store diverged: documents indexed but metadata not stored",
			zap.String("tenant", tenant),
			zap.String("source_id", res.SourceID),
			zap.Int("indexed", len(ids)),
			zap.Error(err),
		)
		return res, &PartialWriteError{Result: res, Err: err}
	}
	res.DocumentIDs = batchResult.DocumentIDs
	res.MetadataWritten = true

	p.logger.Info("batch ingested",
		zap.String("tenant", tenant),
		zap.String("source_id", res.SourceID),
		zap.Int("items", processed),
		zap.Int("chunks", len(ids)),
		zap.Bool("degraded", res.Degraded),
	)
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

// prepare runs every item on the pool and returns the outcomes in input
// order. The first upstream failure cancels the remaining items.
func (p *Pipeline) prepare(ctx context.Context, tenant string, batch Batch) ([]prepared, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := p.now()
	out := make([]prepared, len(batch.Items))

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range batch.Items {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			out[i] = p.prepareItem(ctx, tenant, &batch, batch.Items[i], now)
			if out[i].err != nil {
				fail(out[i].err)
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting item %q: %w", batch.Items[i].Provenance, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (p *Pipeline) prepareItem(ctx context.Context, tenant string, batch *Batch, item Item, now time.Time) prepared {
	res := ItemResult{Provenance: item.Provenance}
	skip := func(reason string) prepared {
		res.Skipped, res.Reason = true, reason
		p.logger.Warn("skipping batch item",
			zap.String("tenant", tenant),
			zap.String("provenance", item.Provenance),
			zap.String("reason", reason),
		)
		return prepared{result: res}
	}

	if item.SkipReason != "" {
		return skip(item.SkipReason)
	}
	if err := ctx.Err(); err != nil {
		return prepared{result: res, err: err}
	}

	text := item.Text
	if text == "" && item.Raw != nil {
		outcome := p.deps.Extractors.Extract(item.Format, item.Raw)
		if outcome.Err != nil {
			return skip(outcome.Err.Error())
		}
		text = outcome.Text
	}
	if strings.TrimSpace(text) == "" {
		return skip("no content extracted")
	}

	chunks, err := chunker.Chunk(text, batch.ChunkSize, batch.Overlap)
	if err != nil {
		return prepared{result: res, err: err}
	}
	if len(chunks) == 0 {
		return skip("no chunks produced")
	}

	vectors, err := p.deps.Embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return prepared{result: res, err: fmt.Errorf("%w: embedding %q: %w", ErrUpstream, item.Provenance, err)}
	}
	if len(vectors) != len(chunks) {
		return prepared{result: res, err: fmt.Errorf("%w: embedding %q returned %d vectors for %d chunks",
			ErrUpstream, item.Provenance, len(vectors), len(chunks))}
	}

	title := item.Title
	if title == "" {
		title = item.Provenance
	}
	var url *string
	if item.Source == SourceWebScraping {
		u := item.Provenance
		url = &u
	}

	out := prepared{
		index:   make([]vectorindex.Document, len(chunks)),
		records: make([]*knowledge.Document, len(chunks)),
	}
	for i, chunk := range chunks {
		out.index[i] = vectorindex.Document{
			ID:             documentID(tenant, item, i),
			Content:        chunk,
			Provenance:     item.Provenance,
			OrganizationID: tenant,
			BlobName:       item.BlobName,
			Embedding:      vectors[i],
		}

		meta := maps.Clone(item.Metadata)
		if meta == nil {
			meta = make(map[string]any, 6)
		}
		meta["chunk_index"] = i
		meta["total_chunks"] = len(chunks)
		meta["processed_at"] = now.Format(time.RFC3339)
		meta["source"] = item.Source
		meta["chunk_size"] = utf8.RuneCountInString(chunk)
		meta["organization_id"] = tenant

		out.records[i] = &knowledge.Document{
			OrganizationID: tenant,
			Title:          fmt.Sprintf("%s - Chunk %d", title, i+1),
			Content:        chunk,
			URL:            url,
			Metadata:       meta,
		}
	}

	res.Chunks = len(chunks)
	out.result = res
	return out
}

// documentID derives the deterministic index key of chunk i.
func documentID(tenant string, item Item, i int) string {
	if item.Source == SourceWebScraping {
		return sanitize.WebDocumentID(tenant, item.Provenance, i)
	}
	return sanitize.DocumentID(tenant, item.Provenance, i)
}

// warnDuplicateIDs logs ids that two items mapped to. With merge writes
// the later chunk silently replaces the earlier one.
func (p *Pipeline) warnDuplicateIDs(tenant string, docs []vectorindex.Document) {
	seen := make(map[string]string, len(docs))
	for _, d := range docs {
		if prev, ok := seen[d.ID]; ok && prev != d.Provenance {
			p.logger.Warn("document id collision between provenances",
				zap.String("tenant", tenant),
				zap.String("id", d.ID),
				zap.String("first", prev),
				zap.String("second", d.Provenance),
			)
			continue
		}
		seen[d.ID] = d.Provenance
	}
}

// snapshot builds the configuration stored on the knowledge source.
func snapshot(batch Batch, processed, chunks int) map[string]any {
	cfg := maps.Clone(batch.Configuration)
	if cfg == nil {
		cfg = make(map[string]any, 4)
	}
	cfg["chunk_size"] = batch.ChunkSize
	cfg["overlap"] = batch.Overlap
	cfg["total_chunks"] = chunks
	if batch.ProcessedKey != "" {
		cfg[batch.ProcessedKey] = processed
	}
	return cfg
}

func sourceLabel(batch Batch) string {
	for _, it := range batch.Items {
		if it.Source != "" {
			return it.Source
		}
	}
	return "unknown"
}

func isPartial(err error) bool {
	var pw *PartialWriteError
	return errors.As(err, &pw)
}
