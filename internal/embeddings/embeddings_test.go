package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)
	}
	return v
}

// newTEIServer answers /embed with one vector of width dim per input.
func newTEIServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		var req struct {
			Inputs   json.RawMessage `json:"inputs"`
			Truncate bool            `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		n := 1
		var many []string
		if json.Unmarshal(req.Inputs, &many) == nil {
			n = len(many)
		}
		out := make([][]float32, n)
		for i := range out {
			out[i] = fakeVector(dim, float32(i))
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTEIService_Embed(t *testing.T) {
	srv := newTEIServer(t, 4)
	svc, err := NewTEIService(TEIConfig{BaseURL: srv.URL + "/", Model: "bge", Dimension: 4}, zap.NewNop())
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[1], 4)

	vector, err := svc.EmbedQuery(context.Background(), "what is alpha?")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
	assert.Equal(t, 4, svc.Dimension())
}

func TestTEIService_DimensionMismatch(t *testing.T) {
	srv := newTEIServer(t, 8)
	svc, err := NewTEIService(TEIConfig{BaseURL: srv.URL, Dimension: 4}, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"alpha"})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = svc.EmbedQuery(context.Background(), "alpha")
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestTEIService_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewTEIService(TEIConfig{BaseURL: srv.URL, Dimension: 4}, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmbeddingFailed))
	assert.Contains(t, err.Error(), "503")

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = svc.EmbedQuery(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrEmptyInput))
}

// newOpenAIServer fakes the OpenAI /embeddings endpoint.
func newOpenAIServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Object: "embedding", Embedding: fakeVector(dim, float32(i)), Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider_Embed(t *testing.T) {
	srv := newOpenAIServer(t, 4)
	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:   srv.URL,
		Model:     "text-embedding-3-small",
		Dimension: 4,
	}, zap.NewNop())
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)

	vector, err := p.EmbedQuery(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
}

func TestOpenAIProvider_DimensionMismatch(t *testing.T) {
	srv := newOpenAIServer(t, 6)
	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimension: 4}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"alpha"})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmbeddingsConfig
		wantErr bool
	}{
		{name: "tei", cfg: config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://localhost:8080", Dimension: 384}},
		{name: "openai with key", cfg: config.EmbeddingsConfig{Provider: "openai", APIKey: "sk-test", Model: "m", Dimension: 1536}},
		{name: "openai without credentials", cfg: config.EmbeddingsConfig{Provider: "openai", Dimension: 1536}, wantErr: true},
		{name: "tei without url", cfg: config.EmbeddingsConfig{Provider: "tei", Dimension: 384}, wantErr: true},
		{name: "unknown", cfg: config.EmbeddingsConfig{Provider: "fastembed", Dimension: 384}, wantErr: true},
		{name: "zero dimension", cfg: config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, config.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Dimension, p.Dimension())
			assert.NoError(t, p.Close())
		})
	}
}
