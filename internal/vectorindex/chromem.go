package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// metaDocID holds the logical document id in chromem metadata. The chromem
// id differs from it for documents written by Insert.
const metaDocID = "doc_id"

var errNoEmbedder = errors.New("chromem index requires precomputed embeddings")

// ChromemConfig configures the embedded index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path      string
	Compress  bool
	Dimension int

	// SupportsMerge reports upsert capability to the ingestion pipeline.
	SupportsMerge bool
}

// ChromemIndex implements Index with chromem-go, an embedded pure-Go
// vector database. Search is exhaustive, so the HNSW schema settings are
// accepted and ignored.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemIndex opens (or creates) the persistent database at cfg.Path.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %v", ErrConnectionFailed, err)
		}
	}

	logger.Info("chromem index initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("dimension", cfg.Dimension),
		zap.Bool("supports_merge", cfg.SupportsMerge),
	)
	return &ChromemIndex{db: db, config: cfg, logger: logger}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// SupportsMerge reports the configured merge capability.
func (c *ChromemIndex) SupportsMerge() bool { return c.config.SupportsMerge }

// Close is a no-op; chromem persists on every write.
func (c *ChromemIndex) Close() error { return nil }

func (c *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	col := c.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return col, nil
}

// CreateIndex creates the collection, recording the schema as metadata.
func (c *ChromemIndex) CreateIndex(ctx context.Context, name string, schema Schema) (err error) {
	defer observe("chromem", "create_index", time.Now(), &err)
	_, span := tracer.Start(ctx, "ChromemIndex.CreateIndex")
	defer span.End()
	span.SetAttributes(attribute.String("index", name), attribute.Int("dimension", schema.Dimension))

	if err := ValidateName(name); err != nil {
		return err
	}
	if c.config.Dimension > 0 && schema.Dimension != c.config.Dimension {
		return fmt.Errorf("%w: schema %d, configured %d", ErrDimensionMismatch, schema.Dimension, c.config.Dimension)
	}
	if c.db.GetCollection(name, noEmbedding) != nil {
		return fmt.Errorf("%w: %s", ErrIndexExists, name)
	}

	meta := map[string]string{
		"dimension":     fmt.Sprint(schema.Dimension),
		"metric":        schema.Metric,
		"content_field": schema.ContentField,
		"filterable":    strings.Join(schema.FilterableFields, ","),
	}
	if _, err = c.db.CreateCollection(name, meta, noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// IndexExists reports whether the collection exists.
func (c *ChromemIndex) IndexExists(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	return c.db.GetCollection(name, noEmbedding) != nil, nil
}

// DeleteIndex drops the collection and its persisted files.
func (c *ChromemIndex) DeleteIndex(ctx context.Context, name string) (err error) {
	defer observe("chromem", "delete_index", time.Now(), &err)
	if _, err = c.collection(name); err != nil {
		return err
	}
	if err = c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	c.logger.Debug("deleted chromem collection", zap.String("index", name))
	return nil
}

// ListIndexes returns the sorted collection names.
func (c *ChromemIndex) ListIndexes(context.Context) ([]string, error) {
	cols := c.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Upsert stores docs under their own ids; chromem replaces existing ids.
func (c *ChromemIndex) Upsert(ctx context.Context, name string, docs []Document) ([]string, error) {
	return c.write(ctx, name, docs, "upsert", func(id string) string { return id })
}

// Insert stores docs under ids suffixed with a random UUID, so existing
// documents are never replaced.
func (c *ChromemIndex) Insert(ctx context.Context, name string, docs []Document) ([]string, error) {
	return c.write(ctx, name, docs, "insert", func(id string) string { return id + "#" + uuid.NewString() })
}

func (c *ChromemIndex) write(ctx context.Context, name string, docs []Document, mode string, storeID func(string) string) (ids []string, err error) {
	defer observe("chromem", mode, time.Now(), &err)
	ctx, span := tracer.Start(ctx, "ChromemIndex.Write")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", name),
		attribute.String("mode", mode),
		attribute.Int("document_count", len(docs)),
	)

	col, err := c.collection(name)
	if err != nil {
		return nil, err
	}
	if err = checkDocuments(docs, c.config.Dimension); err != nil {
		return nil, err
	}

	cdocs := make([]chromem.Document, len(docs))
	ids = make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		cdocs[i] = chromem.Document{
			ID:      storeID(d.ID),
			Content: d.Content,
			Metadata: map[string]string{
				metaDocID:           d.ID,
				FieldProvenance:     d.Provenance,
				FieldOrganizationID: d.OrganizationID,
				FieldBlobName:       d.BlobName,
			},
			Embedding: d.Embedding,
		}
	}

	// Embeddings are precomputed, so one goroutine is enough.
	if err = col.AddDocuments(ctx, cdocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents to %s: %w", name, err)
	}

	documentsWritten.WithLabelValues("chromem", mode).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search runs an exhaustive cosine search with equality filters.
func (c *ChromemIndex) Search(ctx context.Context, name string, req SearchRequest) (results []Result, err error) {
	defer observe("chromem", "search", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.String("index", name), attribute.Int("k", req.K))

	col, err := c.collection(name)
	if err != nil {
		return nil, err
	}
	if err = checkSearch(req, c.config.Dimension); err != nil {
		return nil, err
	}

	// chromem requires k <= document count.
	k := min(req.K, maxK, col.Count())
	if k == 0 {
		return []Result{}, nil
	}

	var where map[string]string
	if len(req.Filter) > 0 {
		where = req.Filter
	}

	hits, err := col.QueryEmbedding(ctx, req.Vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}

	results = make([]Result, len(hits))
	for i, h := range hits {
		id := h.Metadata[metaDocID]
		if id == "" {
			id = h.ID
		}
		results[i] = Result{
			ID:             id,
			Content:        h.Content,
			Provenance:     h.Metadata[FieldProvenance],
			OrganizationID: h.Metadata[FieldOrganizationID],
			BlobName:       h.Metadata[FieldBlobName],
			Score:          h.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Count returns the number of stored documents.
func (c *ChromemIndex) Count(_ context.Context, name string) (int, error) {
	col, err := c.collection(name)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

var _ Index = (*ChromemIndex)(nil)
