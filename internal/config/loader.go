package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is the prefix for environment overrides.
	EnvPrefix = "ORGRAG_"
)

// envSections lists every koanf section path. Environment keys are matched
// against the longest section prefix so that underscores inside section
// names (vector_index, blob_store) survive the mapping.
var envSections = []string{
	"server",
	"logging",
	"telemetry",
	"vector_index",
	"vector_index.chromem",
	"vector_index.qdrant",
	"blob_store",
	"records",
	"embeddings",
	"generation",
	"scraper",
	"ingest",
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// ORGRAG_* environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (ORGRAG_SERVER_PORT, ORGRAG_VECTOR_INDEX_QDRANT_HOST, ...)
//  2. YAML config file (~/.config/orgrag/config.yaml by default)
//  3. Hardcoded defaults
//
// The file must live under ~/.config/orgrag/ or /etc/orgrag/, be at most 1MB,
// and carry 0600 or 0400 permissions. A missing file is not an error.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "orgrag", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("%w: config path validation failed: %v", ErrConfiguration, err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("%w: config file validation failed: %v", ErrConfiguration, err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to load config file %s: %v", ErrConfiguration, configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrConfiguration, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKeyToPath maps ORGRAG_VECTOR_INDEX_QDRANT_HOST to vector_index.qdrant.host.
func envKeyToPath(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	sections := make([]string, len(envSections))
	copy(sections, envSections)
	sort.Slice(sections, func(i, j int) bool { return len(sections[i]) > len(sections[j]) })

	for _, section := range sections {
		flat := strings.ReplaceAll(section, ".", "_") + "_"
		if strings.HasPrefix(key, flat) && len(key) > len(flat) {
			return section + "." + key[len(flat):]
		}
	}

	// Unknown section: fall back to first-underscore split.
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 1 {
		return key
	}
	return parts[0] + "." + parts[1]
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// validateConfigPath checks that path is inside an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "orgrag"),
		"/etc/orgrag",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/orgrag/ or /etc/orgrag/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
