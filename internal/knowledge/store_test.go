package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), config.RecordsConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Strictly increasing timestamps keep newest-first orderings stable.
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return s
}

func newSource(org, name string) *Source {
	return &Source{OrganizationID: org, Name: name, Configuration: map[string]any{"chunk_size": 800}}
}

func newDoc(org, sourceID, content string) *Document {
	return &Document{
		OrganizationID: org,
		SourceID:       sourceID,
		Title:          content,
		Content:        content,
		Metadata:       map[string]any{"chunk_index": 0},
	}
}

func TestSQLStore_Sources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := newSource("Acme", "Batch Processing - docs")
	require.NoError(t, s.CreateSource(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, SourceTypeDocument, first.Type)

	second := newSource("Acme", "Web Scraping - 2026-01-01 10:00")
	require.NoError(t, s.CreateSource(ctx, second))
	require.NoError(t, s.CreateSource(ctx, newSource("Globex", "other")))

	got, err := s.GetSource(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Batch Processing - docs", got.Name)
	assert.Equal(t, float64(800), got.Configuration["chunk_size"])

	list, err := s.ListSources(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	got.Status = StatusProcessing
	got.DocumentsProcessed = 3
	require.NoError(t, s.UpdateSource(ctx, got))
	got, err = s.GetSource(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, 3, got.DocumentsProcessed)

	require.NoError(t, s.DeleteSource(ctx, first.ID))
	_, err = s.GetSource(ctx, first.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(s.DeleteSource(ctx, first.ID)))
}

func TestSQLStore_SourceValidation(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateSource(context.Background(), &Source{Name: "no org"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestSQLStore_Documents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	src := newSource("Acme", "batch")
	require.NoError(t, s.CreateSource(ctx, src))

	url := "https://acme.example/about"
	docs := []*Document{
		newDoc("Acme", src.ID, "chunk zero"),
		newDoc("Acme", src.ID, "chunk one"),
		{OrganizationID: "Acme", SourceID: src.ID, Content: "web chunk", URL: &url},
	}
	ids, err := s.InsertDocuments(ctx, docs)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	bySource, err := s.ListDocumentsBySource(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, bySource, 3)
	assert.Equal(t, "chunk zero", bySource[0].Content, "oldest first")
	assert.Equal(t, StatusCompleted, bySource[0].Status)
	assert.NotNil(t, bySource[0].ProcessedAt)
	assert.Equal(t, float64(0), bySource[0].Metadata["chunk_index"])
	require.NotNil(t, bySource[2].URL)
	assert.Equal(t, url, *bySource[2].URL)

	byOrg, err := s.ListDocumentsByOrganization(ctx, "Acme", 2)
	require.NoError(t, err)
	require.Len(t, byOrg, 2)
	assert.Equal(t, "web chunk", byOrg[0].Content, "newest first")

	require.NoError(t, s.UpdateDocumentStatus(ctx, ids[0], StatusFailed, "embedding rejected"))
	doc, err := s.GetDocument(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, doc.Status)
	assert.Equal(t, "embedding rejected", doc.ErrorMessage)

	require.NoError(t, s.UpdateDocumentStatus(ctx, ids[0], StatusCompleted, ""))
	doc, err = s.GetDocument(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, doc.ErrorMessage)

	require.NoError(t, s.DeleteDocument(ctx, ids[2]))
	n, err := s.DeleteDocumentsBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, IsNotFound(s.UpdateDocumentStatus(ctx, "missing", StatusCompleted, "")))
}

func TestSQLStore_InsertDocumentsIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	src := newSource("Acme", "batch")
	require.NoError(t, s.CreateSource(ctx, src))

	dup := newDoc("Acme", src.ID, "one")
	dup.ID = "fixed"
	again := newDoc("Acme", src.ID, "two")
	again.ID = "fixed"

	_, err := s.InsertDocuments(ctx, []*Document{dup, again})
	require.Error(t, err)

	docs, err := s.ListDocumentsBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = s.InsertDocuments(ctx, []*Document{{OrganizationID: "Acme", SourceID: src.ID}})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestSQLStore_CountByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newSource("Acme", "a")
	b := newSource("Acme", "b")
	require.NoError(t, s.CreateSource(ctx, a))
	require.NoError(t, s.CreateSource(ctx, b))
	b.Status = StatusFailed
	require.NoError(t, s.UpdateSource(ctx, b))

	counts, err := s.CountSourcesByStatus(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusPending: 1, StatusFailed: 1}, counts)

	counts, err = s.CountDocumentsByStatus(ctx, "Nobody")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestSQLStore_NamespaceClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.ClaimNamespace(ctx, "acme-corp", "Acme Corp"))
	require.NoError(t, s.ClaimNamespace(ctx, "acme-corp", "Acme Corp"))

	err := s.ClaimNamespace(ctx, "acme-corp", "acme_corp")
	assert.True(t, errors.Is(err, ErrNamespaceClaimed))

	owner, err := s.NamespaceOwner(ctx, "acme-corp")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", owner)

	require.NoError(t, s.ReleaseNamespace(ctx, "acme-corp"))
	_, err = s.NamespaceOwner(ctx, "acme-corp")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(s.ReleaseNamespace(ctx, "acme-corp")))
	require.NoError(t, s.ClaimNamespace(ctx, "acme-corp", "acme_corp"))
}

func TestOpen_SQLiteFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "knowledge.db")

	s, err := Open(ctx, config.RecordsConfig{Driver: "sqlite", DSN: config.Secret(path)}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.CreateSource(ctx, newSource("Acme", "batch")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, config.RecordsConfig{Driver: "sqlite", DSN: config.Secret(path)}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	list, err := s.ListSources(ctx, "Acme")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.RecordsConfig{Driver: "mongo", DSN: "x"}, zap.NewNop())
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}

func TestOpen_Postgres(t *testing.T) {
	dsn := os.Getenv("ORGRAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORGRAG_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, config.RecordsConfig{Driver: "postgres", DSN: config.Secret(dsn)}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	src := newSource("pg-test-org", "batch")
	require.NoError(t, s.CreateSource(ctx, src))
	t.Cleanup(func() { _ = s.DeleteSource(context.Background(), src.ID) })

	_, err = s.InsertDocuments(ctx, []*Document{newDoc("pg-test-org", src.ID, "hello")})
	require.NoError(t, err)
	n, err := s.DeleteDocumentsBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRebind(t *testing.T) {
	pg := dialects["postgres"]
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	sqlite := dialects["sqlite"]
	assert.Equal(t, "a = ?", sqlite.rebind("a = ?"))
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	st, err := ParseStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st)
	_, err = ParseStatus("DONE")
	assert.Error(t, err)
}
