package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/embeddings"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/logging"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/scraper"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	testDim    = 256
	testTenant = "Acme Corp"
)

type harness struct {
	pipeline *Pipeline
	index    *vectorindex.ChromemIndex
	store    *knowledge.SQLStore
	blobs    *blobstore.FSStore
	embedder *embeddings.TestEmbedder
	logs     *logging.TestLogger
}

type options struct {
	noMerge bool
	noIndex bool
	store   func(knowledge.Store) knowledge.Store
	scraper     scraper.Scraper
	workers     int
	namespaces  NamespaceResolver
	allowedDirs []string
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	ctx := context.Background()
	logs := logging.NewTestLogger()
	logger := logs.Underlying()

	idx, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{
		Dimension:     testDim,
		SupportsMerge: !opts.noMerge,
	}, zap.NewNop())
	require.NoError(t, err)
	if !opts.noIndex {
		require.NoError(t, idx.CreateIndex(ctx, sanitize.Name(testTenant), vectorindex.DefaultSchema(testDim)))
	}

	store, err := knowledge.Open(ctx, config.RecordsConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var ks knowledge.Store = store
	if opts.store != nil {
		ks = opts.store(store)
	}

	blobs, err := blobstore.NewFSStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	embedder := embeddings.NewTestEmbedder(testDim)
	p, err := NewPipeline(Config{Workers: opts.workers, AllowedDirs: opts.allowedDirs}, Dependencies{
		Namespaces: opts.namespaces,
		Index:      idx,
		Embedder:   embedder,
		Knowledge:  knowledge.NewService(ks, zap.NewNop()),
		Blobs:      blobs,
		Scraper:    opts.scraper,
	}, logger)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC) }
	t.Cleanup(p.Close)

	return &harness{pipeline: p, index: idx, store: store, blobs: blobs, embedder: embedder, logs: logs}
}

func (h *harness) indexCount(t *testing.T) int {
	t.Helper()
	n, err := h.index.Count(context.Background(), sanitize.Name(testTenant))
	require.NoError(t, err)
	return n
}

// brokenInserts fails every document insert.
type brokenInserts struct {
	knowledge.Store
}

func (brokenInserts) InsertDocuments(context.Context, []*knowledge.Document) ([]string, error) {
	return nil, errors.New("connection reset by peer")
}

func textBatch(items ...Item) Batch {
	return Batch{
		Items:             items,
		ChunkSize:         800,
		Overlap:           100,
		SourceName:        "Batch Processing - docs",
		SourceDescription: "Files processed from directory: docs",
		Configuration:     map[string]any{"processing_type": "batch_directory"},
		ProcessedKey:      "processed_files",
	}
}

func fileItem(name, text string) Item {
	return Item{
		Provenance: name,
		Text:       text,
		BlobName:   name,
		Source:     SourceLocalFile,
		Title:      name,
		Metadata:   map[string]any{"filename": name},
	}
}

func TestIngest_WritesIndexAndRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	long := strings.Repeat("alpha beta gamma delta ", 60)
	res, err := h.pipeline.Ingest(ctx, testTenant, textBatch(
		fileItem("sky.txt", "The sky is blue."),
		fileItem("notes.txt", long),
	))
	require.NoError(t, err)

	assert.True(t, res.IndexWritten)
	assert.True(t, res.MetadataWritten)
	assert.False(t, res.Degraded)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 1, res.Items[0].Chunks)
	assert.Greater(t, res.Items[1].Chunks, 1)
	assert.Len(t, res.IndexIDs, res.Chunks())
	assert.Len(t, res.DocumentIDs, res.Chunks())
	assert.Equal(t, "acme-corp_sky_txt_0", res.IndexIDs[0])
	assert.Equal(t, res.Chunks(), h.indexCount(t))

	src, err := h.store.GetSource(ctx, res.SourceID)
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusCompleted, src.Status)
	assert.Equal(t, testTenant, src.OrganizationID)
	assert.Equal(t, "Batch Processing - docs", src.Name)
	assert.Equal(t, res.Chunks(), src.DocumentsProcessed)
	assert.Equal(t, float64(800), src.Configuration["chunk_size"])
	assert.Equal(t, float64(100), src.Configuration["overlap"])
	assert.Equal(t, float64(2), src.Configuration["processed_files"])
	assert.Equal(t, float64(res.Chunks()), src.Configuration["total_chunks"])
	assert.Equal(t, "batch_directory", src.Configuration["processing_type"])

	docs, err := h.store.ListDocumentsBySource(ctx, res.SourceID)
	require.NoError(t, err)
	require.Len(t, docs, res.Chunks())
	first := docs[0]
	assert.Equal(t, "sky.txt - Chunk 1", first.Title)
	assert.Equal(t, "The sky is blue.", first.Content)
	assert.Nil(t, first.URL)
	assert.Equal(t, "sky.txt", first.Metadata["filename"])
	assert.Equal(t, float64(0), first.Metadata["chunk_index"])
	assert.Equal(t, float64(1), first.Metadata["total_chunks"])
	assert.Equal(t, float64(16), first.Metadata["chunk_size"])
	assert.Equal(t, SourceLocalFile, first.Metadata["source"])
	assert.Equal(t, testTenant, first.Metadata["organization_id"])
	assert.Equal(t, "2026-03-14T09:26:00Z", first.Metadata["processed_at"])
	assert.Equal(t, "notes.txt - Chunk 2", docs[2].Title)
}

func TestIngest_BlankItemsWriteNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})

	res, err := h.pipeline.Ingest(ctx, testTenant, textBatch(
		fileItem("empty.txt", ""),
		fileItem("spaces.txt", "   \n\t "),
	))
	require.NoError(t, err)

	assert.Empty(t, res.DocumentIDs)
	assert.Empty(t, res.IndexIDs)
	assert.Empty(t, res.SourceID)
	assert.False(t, res.IndexWritten)
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].Skipped)
	assert.True(t, res.Items[1].Skipped)

	assert.Zero(t, h.indexCount(t))
	sources, err := h.store.ListSources(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, sources)
	docCalls, _ := h.embedder.Calls()
	assert.Zero(t, docCalls)
}

func TestIngest_RejectsInvalidChunkSettings(t *testing.T) {
	h := newHarness(t, options{})

	for _, tc := range []struct{ size, overlap int }{{100, 100}, {100, 150}, {0, 0}, {100, -1}} {
		batch := textBatch(fileItem("a.txt", "some text"))
		batch.ChunkSize, batch.Overlap = tc.size, tc.overlap

		_, err := h.pipeline.Ingest(context.Background(), testTenant, batch)
		require.Error(t, err, "size=%d overlap=%d", tc.size, tc.overlap)
		assert.True(t, errors.Is(err, config.ErrConfiguration))
	}
	docCalls, _ := h.embedder.Calls()
	assert.Zero(t, docCalls)
}

func TestIngest_RejectsUnusableTenant(t *testing.T) {
	h := newHarness(t, options{})
	_, err := h.pipeline.Ingest(context.Background(), "!!!", textBatch(fileItem("a.txt", "text")))
	assert.True(t, errors.Is(err, sanitize.ErrInvalidTenantID))
}

func TestIngest_ReingestOverwrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})
	batch := textBatch(fileItem("sky.txt", "The sky is blue."))

	_, err := h.pipeline.Ingest(ctx, testTenant, batch)
	require.NoError(t, err)
	_, err = h.pipeline.Ingest(ctx, testTenant, batch)
	require.NoError(t, err)

	assert.Equal(t, 1, h.indexCount(t))
	sources, err := h.store.ListSources(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, sources, 2, "every run records its own source")
}

func TestIngest_DegradedModeWithoutMerge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{noMerge: true})
	batch := textBatch(fileItem("sky.txt", "The sky is blue."))

	res, err := h.pipeline.Ingest(ctx, testTenant, batch)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.True(t, res.MetadataWritten)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "vector index lacks merge support; inserting, re-runs may duplicate documents")

	_, err = h.pipeline.Ingest(ctx, testTenant, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, h.indexCount(t), "insert mode keeps both copies")
}

func TestIngest_PartialWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{store: func(s knowledge.Store) knowledge.Store { return brokenInserts{s} }})

	res, err := h.pipeline.Ingest(ctx, testTenant, textBatch(
		fileItem("sky.txt", "The sky is blue."),
		fileItem("grass.txt", "The grass is green."),
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialWrite))
	assert.Contains(t, err.Error(), "connection reset by peer")

	var pw *PartialWriteError
	require.True(t, errors.As(err, &pw))
	assert.Same(t, res, pw.Result)

	require.NotNil(t, res)
	assert.True(t, res.IndexWritten)
	assert.False(t, res.MetadataWritten)
	assert.Len(t, res.IndexIDs, 2)
	assert.Empty(t, res.DocumentIDs)
	assert.Equal(t, 2, h.indexCount(t), "index write is kept")

	src, err := h.store.GetSource(ctx, res.SourceID)
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusFailed, src.Status)
	assert.Zero(t, src.DocumentsProcessed)
	assert.Equal(t, 2, src.DocumentsFailed)
	h.logs.AssertLogged(t, zapcore.ErrorLevel, "vector index and record store diverged")
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})
	h.embedder.FailWith(errors.New("rate limited"))

	res, err := h.pipeline.Ingest(ctx, testTenant, textBatch(fileItem("sky.txt", "The sky is blue.")))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Contains(t, err.Error(), "rate limited")

	assert.Zero(t, h.indexCount(t))
	sources, err := h.store.ListSources(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestIngest_IndexFailureSkipsMetadata(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{noIndex: true})

	_, err := h.pipeline.Ingest(ctx, testTenant, textBatch(fileItem("sky.txt", "The sky is blue.")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.True(t, errors.Is(err, vectorindex.ErrIndexNotFound))

	sources, err := h.store.ListSources(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestIngest_PreservesItemOrder(t *testing.T) {
	h := newHarness(t, options{workers: 4})

	items := make([]Item, 25)
	for i := range items {
		items[i] = fileItem(fmt.Sprintf("file-%02d.txt", i), fmt.Sprintf("document number %d body", i))
	}
	res, err := h.pipeline.Ingest(context.Background(), testTenant, textBatch(items...))
	require.NoError(t, err)

	require.Len(t, res.Items, 25)
	for i, it := range res.Items {
		assert.Equal(t, fmt.Sprintf("file-%02d.txt", i), it.Provenance)
		assert.Equal(t, sanitize.DocumentID(testTenant, it.Provenance, 0), res.IndexIDs[i])
	}
}

func TestIngest_ExplicitSkipAndRawExtraction(t *testing.T) {
	h := newHarness(t, options{})

	res, err := h.pipeline.Ingest(context.Background(), testTenant, textBatch(
		Item{Provenance: "raw.txt", Raw: []byte("extracted from bytes"), Format: ".txt", Source: SourceLocalFile},
		Item{Provenance: "broken.pdf", Raw: []byte("not a pdf"), Format: ".pdf", Source: SourceLocalFile},
		Item{Provenance: "locked.txt", SkipReason: "reading file: permission denied", Source: SourceLocalFile},
	))
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, 1, res.Items[0].Chunks)
	assert.True(t, res.Items[1].Skipped)
	assert.Contains(t, res.Items[1].Reason, "extract .pdf")
	assert.True(t, res.Items[2].Skipped)
	assert.Equal(t, "reading file: permission denied", res.Items[2].Reason)
	assert.Len(t, res.IndexIDs, 1)
}

func TestPartialWriteError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("ingest: %w", &PartialWriteError{Err: cause})

	assert.True(t, errors.Is(err, ErrPartialWrite))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "partial", outcomeLabel(err))
	assert.Equal(t, "error", outcomeLabel(cause))
	assert.Equal(t, "success", outcomeLabel(nil))
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(Config{}, Dependencies{}, nil)
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}
