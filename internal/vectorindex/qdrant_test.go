package vectorindex

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestQdrant(t *testing.T, merge bool) *QdrantIndex {
	t.Helper()
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set")
	}
	port := 6334
	if p := os.Getenv("QDRANT_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}

	idx, err := NewQdrantIndex(QdrantConfig{
		Host:          host,
		Port:          port,
		Dimension:     testDim,
		SupportsMerge: merge,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testIndexName() string {
	return "test-" + uuid.NewString()[:8]
}

func TestQdrantIndex_UpsertSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestQdrant(t, true)
	name := testIndexName()

	require.NoError(t, idx.CreateIndex(ctx, name, DefaultSchema(testDim)))
	t.Cleanup(func() { _ = idx.DeleteIndex(context.Background(), name) })

	docs := []Document{
		doc("near", "Acme", "a.txt", 1, 0.1, 0, 0),
		doc("far", "Acme", "b.txt", 0, 0, 1, 0),
		doc("other", "Other", "c.txt", 1, 0, 0, 0),
	}
	_, err := idx.Upsert(ctx, name, docs)
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, name, docs)
	require.NoError(t, err)

	n, err := idx.Count(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := idx.Search(ctx, name, SearchRequest{
		Vector: []float32{1, 0, 0, 0},
		K:      3,
		Filter: map[string]string{FieldOrganizationID: "Acme"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "a.txt", results[0].Provenance)
}

func TestQdrantIndex_DeleteMissing(t *testing.T) {
	idx := newTestQdrant(t, true)
	err := idx.DeleteIndex(context.Background(), testIndexName())
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, IsTransientError(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(nil))
}

func TestQdrantConfigDefaults(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Positive(t, cfg.MaxRetries)
}
