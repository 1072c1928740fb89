package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "orgrag")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("ORGRAG_EMBEDDINGS_API_KEY", "sk-embed")
	t.Setenv("ORGRAG_GENERATION_API_KEY", "sk-gen")
}

func TestLoadWithFile_YAML(t *testing.T) {
	dir := setupTestHome(t)
	setCredentials(t)

	path := filepath.Join(dir, "config.yaml")
	yamlContent := `server:
  port: 8088
vector_index:
  provider: qdrant
  supports_merge: false
  qdrant:
    host: qdrant.internal
    port: 6334
ingest:
  chunk_size: 500
  overlap: 50
  allowed_dirs:
    - /srv/orgrag/docs
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorIndex.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorIndex.Qdrant.Host)
	assert.False(t, cfg.VectorIndex.MergeSupported())
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.Overlap)
	assert.Equal(t, []string{"/srv/orgrag/docs"}, cfg.Ingest.AllowedDirs)
	assert.Equal(t, "sk-embed", cfg.Embeddings.APIKey.Value())
}

func TestLoadWithFile_EnvOverride(t *testing.T) {
	dir := setupTestHome(t)
	setCredentials(t)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0600))

	t.Setenv("ORGRAG_SERVER_PORT", "7777")
	t.Setenv("ORGRAG_VECTOR_INDEX_QDRANT_HOST", "10.0.0.5")
	t.Setenv("ORGRAG_BLOB_STORE_PROVIDER", "badger")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "10.0.0.5", cfg.VectorIndex.Qdrant.Host)
	assert.Equal(t, "badger", cfg.BlobStore.Provider)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)
	setCredentials(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadWithFile_MissingCredentials(t *testing.T) {
	dir := setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	setCredentials(t)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	setCredentials(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestEnvKeyToPath(t *testing.T) {
	tests := map[string]string{
		"ORGRAG_SERVER_PORT":                  "server.port",
		"ORGRAG_SERVER_SHUTDOWN_TIMEOUT":      "server.shutdown_timeout",
		"ORGRAG_VECTOR_INDEX_PROVIDER":        "vector_index.provider",
		"ORGRAG_VECTOR_INDEX_CHROMEM_PATH":    "vector_index.chromem.path",
		"ORGRAG_VECTOR_INDEX_QDRANT_API_KEY":  "vector_index.qdrant.api_key",
		"ORGRAG_SCRAPER_REQUESTS_PER_SECOND":  "scraper.requests_per_second",
		"ORGRAG_EMBEDDINGS_BASE_URL":          "embeddings.base_url",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKeyToPath(in), in)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandHome("~/data/index")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "index"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
