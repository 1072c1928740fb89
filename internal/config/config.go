// Package config provides configuration loading for orgrag.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then ORGRAG_* environment variables. Validate fails fast with
// ErrConfiguration before any collaborator is contacted.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrConfiguration marks a missing or invalid setting. Everything that
// rejects configuration wraps it so callers can match with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// Config holds the complete orgrag configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	VectorIndex VectorIndexConfig `koanf:"vector_index"`
	BlobStore   BlobStoreConfig   `koanf:"blob_store"`
	Records     RecordsConfig     `koanf:"records"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	Scraper     ScraperConfig     `koanf:"scraper"`
	Ingest      IngestConfig      `koanf:"ingest"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// VectorIndexConfig selects and configures the per-tenant vector index.
type VectorIndexConfig struct {
	// Provider is "chromem" (embedded) or "qdrant".
	Provider string `koanf:"provider"`

	// SupportsMerge overrides the provider's merge-or-upload capability.
	// nil means use the provider default (true for both built-in providers).
	SupportsMerge *bool `koanf:"supports_merge"`

	// Dimension is the embedding width declared on every tenant index.
	Dimension int `koanf:"dimension"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	UseTLS       bool     `koanf:"use_tls"`
	APIKey       Secret   `koanf:"api_key"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// BlobStoreConfig selects the object store backing tenant containers.
type BlobStoreConfig struct {
	// Provider is "fs" or "badger".
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// RecordsConfig selects the knowledge record store.
type RecordsConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	DSN    Secret `koanf:"dsn"`
}

// EmbeddingsConfig configures the embedding collaborator.
type EmbeddingsConfig struct {
	// Provider is "tei" or "openai".
	Provider  string `koanf:"provider"`
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
}

// GenerationConfig configures the chat-completion collaborator.
type GenerationConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	MaxTokens int    `koanf:"max_tokens"`
}

// ScraperConfig bounds the website crawler.
type ScraperConfig struct {
	MaxPages          int      `koanf:"max_pages"`
	MaxDepth          int      `koanf:"max_depth"`
	Concurrency       int      `koanf:"concurrency"`
	Timeout           Duration `koanf:"timeout"`
	UserAgent         string   `koanf:"user_agent"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	MaxBodyBytes      int64    `koanf:"max_body_bytes"`
}

// IngestConfig holds chunking defaults and pipeline parallelism.
type IngestConfig struct {
	ChunkSize int `koanf:"chunk_size"`
	Overlap   int `koanf:"overlap"`
	Workers   int `koanf:"workers"`

	// AllowedDirs lists the roots directory ingestion may read from.
	// Empty allows any directory the process can read.
	AllowedDirs []string `koanf:"allowed_dirs"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "orgrag"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}

	// chromem is the default: embedded, no external service required.
	if cfg.VectorIndex.Provider == "" {
		cfg.VectorIndex.Provider = "chromem"
	}
	if cfg.VectorIndex.Dimension == 0 {
		cfg.VectorIndex.Dimension = 1536
	}
	if cfg.VectorIndex.Chromem.Path == "" {
		cfg.VectorIndex.Chromem.Path = "~/.local/share/orgrag/index"
	}
	if cfg.VectorIndex.Qdrant.Host == "" {
		cfg.VectorIndex.Qdrant.Host = "localhost"
	}
	if cfg.VectorIndex.Qdrant.Port == 0 {
		cfg.VectorIndex.Qdrant.Port = 6334
	}
	if cfg.VectorIndex.Qdrant.MaxRetries == 0 {
		cfg.VectorIndex.Qdrant.MaxRetries = 3
	}
	if cfg.VectorIndex.Qdrant.RetryBackoff == 0 {
		cfg.VectorIndex.Qdrant.RetryBackoff = Duration(time.Second)
	}

	if cfg.BlobStore.Provider == "" {
		cfg.BlobStore.Provider = "fs"
	}
	if cfg.BlobStore.Path == "" {
		cfg.BlobStore.Path = "~/.local/share/orgrag/blobs"
	}

	if cfg.Records.Driver == "" {
		cfg.Records.Driver = "sqlite"
	}
	if cfg.Records.DSN == "" && cfg.Records.Driver == "sqlite" {
		cfg.Records.DSN = "~/.local/share/orgrag/knowledge.db"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = cfg.VectorIndex.Dimension
	}

	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 800
	}

	if cfg.Scraper.MaxPages == 0 {
		cfg.Scraper.MaxPages = 10
	}
	if cfg.Scraper.MaxDepth == 0 {
		cfg.Scraper.MaxDepth = 1
	}
	if cfg.Scraper.Concurrency == 0 {
		cfg.Scraper.Concurrency = 4
	}
	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = Duration(30 * time.Second)
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = "Mozilla/5.0 (compatible; orgrag/1.0)"
	}
	if cfg.Scraper.RequestsPerSecond == 0 {
		cfg.Scraper.RequestsPerSecond = 5
	}
	if cfg.Scraper.MaxBodyBytes == 0 {
		cfg.Scraper.MaxBodyBytes = 5 << 20
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 800
	}
	if cfg.Ingest.Overlap == 0 {
		cfg.Ingest.Overlap = 100
	}
}

// Validate checks the configuration. Every failure wraps ErrConfiguration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d (must be 1-65535)", ErrConfiguration, c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrConfiguration)
	}

	switch c.VectorIndex.Provider {
	case "chromem":
		if c.VectorIndex.Chromem.Path == "" {
			return fmt.Errorf("%w: vector_index.chromem.path required", ErrConfiguration)
		}
	case "qdrant":
		if c.VectorIndex.Qdrant.Host == "" {
			return fmt.Errorf("%w: vector_index.qdrant.host required", ErrConfiguration)
		}
		if c.VectorIndex.Qdrant.Port <= 0 || c.VectorIndex.Qdrant.Port > 65535 {
			return fmt.Errorf("%w: invalid qdrant port %d", ErrConfiguration, c.VectorIndex.Qdrant.Port)
		}
	default:
		return fmt.Errorf("%w: unknown vector_index.provider %q", ErrConfiguration, c.VectorIndex.Provider)
	}
	if c.VectorIndex.Dimension <= 0 {
		return fmt.Errorf("%w: vector_index.dimension must be positive", ErrConfiguration)
	}

	switch c.BlobStore.Provider {
	case "fs", "badger":
	default:
		return fmt.Errorf("%w: unknown blob_store.provider %q", ErrConfiguration, c.BlobStore.Provider)
	}
	if c.BlobStore.Path == "" {
		return fmt.Errorf("%w: blob_store.path required", ErrConfiguration)
	}

	switch c.Records.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown records.driver %q", ErrConfiguration, c.Records.Driver)
	}
	if !c.Records.DSN.IsSet() {
		return fmt.Errorf("%w: records.dsn required", ErrConfiguration)
	}

	switch c.Embeddings.Provider {
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("%w: embeddings.base_url required for tei", ErrConfiguration)
		}
	case "openai":
		if !c.Embeddings.APIKey.IsSet() && c.Embeddings.BaseURL == "" {
			return fmt.Errorf("%w: embeddings.api_key or embeddings.base_url required for openai", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrConfiguration, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension != c.VectorIndex.Dimension {
		return fmt.Errorf("%w: embeddings.dimension %d does not match vector_index.dimension %d",
			ErrConfiguration, c.Embeddings.Dimension, c.VectorIndex.Dimension)
	}

	if !c.Generation.APIKey.IsSet() && c.Generation.BaseURL == "" {
		return fmt.Errorf("%w: generation.api_key or generation.base_url required", ErrConfiguration)
	}
	if c.Generation.MaxTokens <= 0 {
		return fmt.Errorf("%w: generation.max_tokens must be positive", ErrConfiguration)
	}

	if c.Scraper.MaxPages <= 0 || c.Scraper.Concurrency <= 0 || c.Scraper.MaxDepth < 0 {
		return fmt.Errorf("%w: scraper limits must be positive", ErrConfiguration)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("%w: ingest.chunk_size must be positive", ErrConfiguration)
	}
	if c.Ingest.Overlap < 0 || c.Ingest.Overlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: ingest.overlap must satisfy 0 <= overlap < chunk_size", ErrConfiguration)
	}
	for _, dir := range c.Ingest.AllowedDirs {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%w: ingest.allowed_dirs entry %q must be absolute", ErrConfiguration, dir)
		}
	}

	return nil
}

// MergeSupported resolves the effective merge capability of the index.
func (c VectorIndexConfig) MergeSupported() bool {
	if c.SupportsMerge == nil {
		return true
	}
	return *c.SupportsMerge
}
