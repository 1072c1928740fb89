package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Embeddings.APIKey = "sk-test"
	cfg.Generation.APIKey = "sk-test"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.Overlap)
	assert.Equal(t, 1536, cfg.VectorIndex.Dimension)
	assert.Equal(t, cfg.VectorIndex.Dimension, cfg.Embeddings.Dimension)
	assert.Equal(t, "chromem", cfg.VectorIndex.Provider)
	assert.Equal(t, "fs", cfg.BlobStore.Provider)
	assert.Equal(t, "sqlite", cfg.Records.Driver)
	assert.Equal(t, 800, cfg.Generation.MaxTokens)
	assert.Equal(t, 10, cfg.Scraper.MaxPages)
	assert.Equal(t, 1, cfg.Scraper.MaxDepth)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.True(t, cfg.VectorIndex.MergeSupported())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing generation credentials",
			mutate:  func(c *Config) { c.Generation.APIKey = "" },
			wantErr: true,
		},
		{
			name: "openai embeddings via base url only",
			mutate: func(c *Config) {
				c.Embeddings.APIKey = ""
				c.Embeddings.BaseURL = "http://localhost:11434/v1"
			},
		},
		{
			name:    "tei without base url",
			mutate:  func(c *Config) { c.Embeddings.Provider = "tei" },
			wantErr: true,
		},
		{
			name:    "unknown vector provider",
			mutate:  func(c *Config) { c.VectorIndex.Provider = "faiss" },
			wantErr: true,
		},
		{
			name:    "dimension mismatch",
			mutate:  func(c *Config) { c.Embeddings.Dimension = 384 },
			wantErr: true,
		},
		{
			name:    "overlap equals chunk size",
			mutate:  func(c *Config) { c.Ingest.Overlap = c.Ingest.ChunkSize },
			wantErr: true,
		},
		{
			name:    "negative overlap",
			mutate:  func(c *Config) { c.Ingest.Overlap = -1 },
			wantErr: true,
		},
		{
			name:    "unknown records driver",
			mutate:  func(c *Config) { c.Records.Driver = "mongo" },
			wantErr: true,
		},
		{
			name:   "absolute allowed dir",
			mutate: func(c *Config) { c.Ingest.AllowedDirs = []string{"/srv/orgrag/docs"} },
		},
		{
			name:    "relative allowed dir",
			mutate:  func(c *Config) { c.Ingest.AllowedDirs = []string{"docs"} },
			wantErr: true,
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMergeSupported(t *testing.T) {
	off := false
	cfg := VectorIndexConfig{SupportsMerge: &off}
	assert.False(t, cfg.MergeSupported())
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-live-123", s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
}
