// ABOUTME: YAML configuration for the policy store service
// ABOUTME: Load applies defaults, env overrides, then validates

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
}

// ServerConfig configures the API and observability listeners.
type ServerConfig struct {
	ListenAddress        string `yaml:"listen_address"`
	ObservabilityAddress string `yaml:"observability_address"`
}

// StoreConfig configures the embedded key-value store.
type StoreConfig struct {
	DataDir    string `yaml:"data_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// WeaviateConfig configures the vector index gateway.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	Class  string `yaml:"class"`
}

// Defaults
const (
	DefaultListenAddress        = ":8080"
	DefaultObservabilityAddress = ":9090"
	DefaultDataDir              = "./data"
	DefaultLogLevel             = "info"
	DefaultWeaviateScheme       = "http"
	DefaultWeaviateClass        = "PolicyChunk"
)

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result. An empty path loads
// pure defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ObservabilityAddress == "" {
		cfg.Server.ObservabilityAddress = DefaultObservabilityAddress
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = DefaultDataDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Weaviate.Scheme == "" {
		cfg.Weaviate.Scheme = DefaultWeaviateScheme
	}
	if cfg.Weaviate.Class == "" {
		cfg.Weaviate.Class = DefaultWeaviateClass
	}
}

// applyEnvOverrides applies POLICYSTORE_SECTION_FIELD environment
// variables on top of the loaded file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("POLICYSTORE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("POLICYSTORE_SERVER_OBSERVABILITY_ADDRESS"); val != "" {
		cfg.Server.ObservabilityAddress = val
	}
	if val := os.Getenv("POLICYSTORE_STORE_DATA_DIR"); val != "" {
		cfg.Store.DataDir = val
	}
	if val := os.Getenv("POLICYSTORE_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("POLICYSTORE_WEAVIATE_HOST"); val != "" {
		cfg.Weaviate.Host = val
	}
	if val := os.Getenv("POLICYSTORE_WEAVIATE_SCHEME"); val != "" {
		cfg.Weaviate.Scheme = val
	}
	if val := os.Getenv("POLICYSTORE_WEAVIATE_CLASS"); val != "" {
		cfg.Weaviate.Class = val
	}
}

// Validate checks the configuration for inconsistencies.
func Validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}

	if cfg.Server.ListenAddress == cfg.Server.ObservabilityAddress {
		return fmt.Errorf("listen address and observability address must differ")
	}

	switch cfg.Weaviate.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid weaviate scheme %q", cfg.Weaviate.Scheme)
	}

	return nil
}
