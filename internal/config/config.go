// Package config loads the license server configuration from a YAML file and
// CNW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Metadata store backends.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Meta     MetaConfig     `yaml:"meta" envconfig:"META"`
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	APIKey          string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig points at the PostgreSQL catalog database.
type DatabaseConfig struct {
	URL          string        `yaml:"url" envconfig:"URL"`
	CatalogCache time.Duration `yaml:"catalog_cache" envconfig:"CATALOG_CACHE"`
}

// MetaConfig selects the metadata store.
type MetaConfig struct {
	Backend        string        `yaml:"backend" envconfig:"BACKEND"`
	URL            string        `yaml:"url" envconfig:"URL"`
	Database       string        `yaml:"database" envconfig:"DATABASE"`
	DefaultKey     string        `yaml:"default_key" envconfig:"DEFAULT_KEY"`
	PersistTimeout time.Duration `yaml:"persist_timeout" envconfig:"PERSIST_TIMEOUT"`
}

// StorageConfig controls package delivery from S3.
type StorageConfig struct {
	UseRemote           bool          `yaml:"use_remote" envconfig:"USE_REMOTE"`
	Bucket              string        `yaml:"bucket" envconfig:"BUCKET"`
	Region              string        `yaml:"region" envconfig:"REGION"`
	Endpoint            string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Prefix              string        `yaml:"prefix" envconfig:"PREFIX"`
	AccessKeyID         string        `yaml:"access_key_id" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey     string        `yaml:"secret_access_key" envconfig:"SECRET_ACCESS_KEY"`
	SecretAccessKeyFile string        `yaml:"secret_access_key_file" envconfig:"SECRET_ACCESS_KEY_FILE"`
	Expires             time.Duration `yaml:"expires" envconfig:"EXPIRES"`
	UsePathStyle        bool          `yaml:"use_path_style" envconfig:"USE_PATH_STYLE"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// Defaults returns the configuration used for any field not set by file or env.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{CatalogCache: 5 * time.Minute},
		Meta: MetaConfig{
			Backend:        BackendPostgres,
			Database:       "cnw_license",
			DefaultKey:     "license",
			PersistTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{Region: "us-east-1", Expires: 15 * time.Minute},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load starts from Defaults, overlays the YAML file at path (skipped when empty
// or missing), then applies CNW_* environment variables, which take precedence.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("CNW", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// resolveSecrets reads the S3 secret from SecretAccessKeyFile when the key itself is unset.
func (c *Config) resolveSecrets() error {
	if c.Storage.SecretAccessKey != "" || c.Storage.SecretAccessKeyFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Storage.SecretAccessKeyFile)
	if err != nil {
		return fmt.Errorf("read secret access key file: %w", err)
	}
	c.Storage.SecretAccessKey = strings.TrimSpace(string(data))
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Meta.Backend {
	case BackendPostgres, BackendMemory:
	case BackendMongo, BackendRedis:
		if c.Meta.URL == "" {
			return fmt.Errorf("meta.url is required for backend %q", c.Meta.Backend)
		}
	default:
		return fmt.Errorf("unknown meta backend %q", c.Meta.Backend)
	}
	if c.Database.URL == "" && c.Meta.Backend == BackendPostgres {
		return errors.New("database.url is required for the postgres meta backend")
	}
	if c.Storage.UseRemote && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage.use_remote is enabled")
	}
	if c.Meta.DefaultKey == "" {
		return errors.New("meta.default_key must not be empty")
	}
	return nil
}
