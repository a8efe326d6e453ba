// Package config loads the application configuration.
// Order: defaults -> config.yml -> config.local.yml -> environment
// overrides -> validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"changewatch/internal/storage"
)

// Config holds the application configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Bus     BusConfig     `yaml:"bus"`
	Watch   WatchConfig   `yaml:"watch"`

	// Collections declares the schema registry: every collection the relay
	// accepts operations for, with its key-field ordering.
	Collections []storage.CollectionSchema `yaml:"collections"`
}

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	Backend string      `yaml:"backend"` // memory, mongo
	Mongo   MongoConfig `yaml:"mongo"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// BusConfig configures the operation/event bus.
type BusConfig struct {
	Provider      string `yaml:"provider"` // memory, nats
	URL           string `yaml:"url"`
	OpsStream     string `yaml:"ops_stream"`
	ChangesStream string `yaml:"changes_stream"`
	ConsumerName  string `yaml:"consumer_name"`
}

// WatchConfig configures the interception layer.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`

	// Collections restricts reporting to the named collections. Empty
	// means all, unless Expr is set.
	Collections []string `yaml:"collections"`

	// Expr is a CEL expression over the variable `collection`, e.g.
	// `collection.startsWith("orders")`. Takes precedence over
	// Collections.
	Expr string `yaml:"expr"`

	// PublishPreEvents also publishes pre-execution change events.
	PublishPreEvents bool `yaml:"publish_pre_events"`
}

// Default returns the configuration defaults. Starting from defaults lets
// YAML override them, including bool fields.
func Default() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Storage: StorageConfig{
			Backend: "memory",
			Mongo: MongoConfig{
				URI:      "mongodb://localhost:27017",
				Database: "changewatch",
			},
		},
		Bus: BusConfig{
			Provider:      "memory",
			URL:           "nats://localhost:4222",
			OpsStream:     "ops",
			ChangesStream: "changes",
			ConsumerName:  "changewatch",
		},
		Watch: WatchConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the given file over the defaults, then
// from the sibling "<name>.local.<ext>" file if one exists. Missing files
// are not an error; the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
		if err := mergeFile(cfg, localPath(path)); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// localPath derives the developer-override file name, e.g.
// "config/config.yml" -> "config/config.local.yml".
func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// ApplyEnvOverrides applies environment variables over the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHANGEWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHANGEWATCH_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CHANGEWATCH_MONGO_URI"); v != "" {
		c.Storage.Mongo.URI = v
	}
	if v := os.Getenv("CHANGEWATCH_MONGO_DATABASE"); v != "" {
		c.Storage.Mongo.Database = v
	}
	if v := os.Getenv("CHANGEWATCH_BUS_PROVIDER"); v != "" {
		c.Bus.Provider = v
	}
	if v := os.Getenv("CHANGEWATCH_NATS_URL"); v != "" {
		c.Bus.URL = v
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required for the mongo backend")
		}
		if c.Storage.Mongo.Database == "" {
			return fmt.Errorf("storage.mongo.database is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Bus.Provider {
	case "memory":
	case "nats":
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url is required for the nats provider")
		}
	default:
		return fmt.Errorf("unknown bus provider %q", c.Bus.Provider)
	}

	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection must be declared")
	}
	for _, cs := range c.Collections {
		if err := cs.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Schemas builds the schema registry from the declared collections.
func (c *Config) Schemas() (storage.Schemas, error) {
	return storage.NewSchemas(c.Collections...)
}
