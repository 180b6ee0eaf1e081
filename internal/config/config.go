// Package config handles YAML configuration loading with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	gateway "github.com/ccmux/gateway/internal"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Router    RouterConfig           `yaml:"router"`
	Auth      AuthConfig             `yaml:"auth"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
	Providers []gateway.ProviderConfig `yaml:"providers"`
	Models    []ModelEntry           `yaml:"models"`
}

// ModelEntry is one entry of the top-level models sequence; it expands to
// one gateway.ModelMapping per listed mapping.
type ModelEntry struct {
	Name     string          `yaml:"name"`
	Mappings []MappingTarget `yaml:"mappings"`
}

// MappingTarget names a provider and priority for a ModelEntry.
type MappingTarget struct {
	Provider string `yaml:"provider"`
	Priority int    `yaml:"priority"`
}

// ToMappings flattens the models sequence into gateway.ModelMapping values.
func (c *Config) ToMappings() []gateway.ModelMapping {
	var out []gateway.ModelMapping
	for _, m := range c.Models {
		for _, t := range m.Mappings {
			out = append(out, gateway.ModelMapping{Name: m.Name, Provider: t.Provider, Priority: t.Priority})
		}
	}
	return out
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RouterConfig configures the Router (spec §4.5): the fallback default
// model plus three optional override models, and the auto-map/background
// regex patterns. An empty pattern means "use the built-in default".
type RouterConfig struct {
	Default          string `yaml:"default"`
	Background       string `yaml:"background"`
	Think            string `yaml:"think"`
	WebSearch        string `yaml:"websearch"`
	AutoMapRegex     string `yaml:"auto_map_regex"`
	BackgroundRegex  string `yaml:"background_regex"`
}

// AuthConfig holds the gateway's own optional shared-key auth setting.
type AuthConfig struct {
	SharedKey string `yaml:"shared_key"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

var envPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnv replaces $VAR patterns with environment variable values.
// Unlike shell expansion there is no ${VAR} form; a reference to an unset
// variable is a fatal load error (spec §6), not a silent no-op.
func expandEnv(data []byte) ([]byte, error) {
	var firstErr error
	out := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[1:])
		val, ok := os.LookupEnv(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("config: environment variable %q is not set", name)
			}
			return match
		}
		return []byte(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Load reads and parses a YAML config file, expanding $VAR references and
// failing the load if any referenced variable is unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data, err = expandEnv(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
