package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/config"
)

// Export protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled         bool
	Endpoint        string
	Protocol        string
	Insecure        bool
	ServiceName     string
	ServiceVersion  string
	SampleRate      float64
	ExportInterval  time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns the disabled default.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		Insecure:        true,
		ServiceName:     "orgrag",
		ServiceVersion:  "dev",
		SampleRate:      1.0,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromSettings maps the telemetry section of the application config.
func FromSettings(s config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = s.Enabled
	cfg.Insecure = s.Insecure
	cfg.SampleRate = s.SampleRate
	if s.Endpoint != "" {
		cfg.Endpoint = s.Endpoint
	}
	if s.Protocol != "" {
		cfg.Protocol = s.Protocol
	}
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	if d := s.ExportInterval.Duration(); d > 0 {
		cfg.ExportInterval = d
	}
	return cfg
}

// Validate checks configuration for errors. A disabled config is always
// valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("%w: telemetry endpoint is required when enabled", config.ErrConfiguration)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("%w: telemetry service_name is required when enabled", config.ErrConfiguration)
	}
	if c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("%w: telemetry protocol must be %q or %q, got %q",
			config.ErrConfiguration, ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	// Plaintext export is only allowed to a local collector.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("%w: insecure telemetry export to remote endpoint %s", config.ErrConfiguration, c.Endpoint)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry sample_rate must be between 0 and 1, got %v", config.ErrConfiguration, c.SampleRate)
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("%w: telemetry export_interval must be positive", config.ErrConfiguration)
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	switch {
	case strings.HasPrefix(host, "["):
		if i := strings.Index(host, "]"); i > 0 {
			host = host[1:i]
		}
	case strings.Count(host, ":") == 1:
		host = host[:strings.LastIndex(host, ":")]
	}
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
