// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"

	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/files"
	"github.com/jacentio/canopy/store"
)

// Store backends.
const (
	StoreDynamo = "dynamo"
	StoreMemory = "memory"
)

// Config is everything a canopy process reads from its environment.
type Config struct {
	Addr       string `env:"CANOPY_ADDR" envDefault:":8080"`
	SchemaFile string `env:"CANOPY_SCHEMA" envDefault:"schema.yaml"`
	UserHeader string `env:"CANOPY_USER_HEADER" envDefault:"X-User-Id"`
	Debug      bool   `env:"CANOPY_DEBUG" envDefault:"false"`

	Store           string `env:"CANOPY_STORE" envDefault:"dynamo"`
	TablePrefix     string `env:"CANOPY_TABLE_PREFIX" envDefault:"canopy_"`
	SearchScanLimit int    `env:"CANOPY_SEARCH_SCAN_LIMIT" envDefault:"5000"`
	// DynamoEndpoint points the client at DynamoDB Local or a proxy.
	DynamoEndpoint string `env:"CANOPY_DYNAMO_ENDPOINT"`

	// Fetchers maps cache fetcher names to source URLs: "name=url,name=url".
	Fetchers string `env:"CANOPY_FETCHERS"`

	SlowMutation time.Duration `env:"CANOPY_SLOW_MUTATION" envDefault:"500ms"`
	AuditLog     bool          `env:"CANOPY_AUDIT_LOG" envDefault:"false"`

	FilesBucket    string        `env:"CANOPY_FILES_BUCKET"`
	FilesPrefix    string        `env:"CANOPY_FILES_PREFIX"`
	FilesURLExpiry time.Duration `env:"CANOPY_FILES_URL_EXPIRY" envDefault:"15m"`

	BulkLimit           int           `env:"CANOPY_BULK_LIMIT" envDefault:"100"`
	SearchLimit         int           `env:"CANOPY_SEARCH_LIMIT" envDefault:"100"`
	FilterThreshold     int           `env:"CANOPY_FILTER_THRESHOLD" envDefault:"1000"`
	StrictFilters       bool          `env:"CANOPY_STRICT_FILTERS" envDefault:"false"`
	SoftDeleteRetention time.Duration `env:"CANOPY_SOFT_DELETE_RETENTION"`

	LogLevel      string `env:"CANOPY_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"CANOPY_LOG_FORMAT" envDefault:"json"`
	LogFile       string `env:"CANOPY_LOG_FILE"`
	LogMaxSize    int    `env:"CANOPY_LOG_MAX_SIZE" envDefault:"100"`
	LogMaxBackups int    `env:"CANOPY_LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAge     int    `env:"CANOPY_LOG_MAX_AGE" envDefault:"30"`
	LogCompress   bool   `env:"CANOPY_LOG_COMPRESS" envDefault:"true"`
}

// Load reads the given dotenv files (missing files are skipped) into the
// process environment, then parses the environment. Variables already set
// win over dotenv values.
func Load(dotenv ...string) (*Config, error) {
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env cannot check by type.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreDynamo, StoreMemory:
	default:
		return fmt.Errorf("CANOPY_STORE: unknown store %q", c.Store)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("CANOPY_LOG_LEVEL: %w", err)
	}
	if _, err := c.FetcherURLs(); err != nil {
		return fmt.Errorf("CANOPY_FETCHERS: %w", err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("CANOPY_LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	return nil
}

// Engine returns the engine settings.
func (c *Config) Engine() crud.Config {
	return crud.Config{
		BulkLimit:           c.BulkLimit,
		SearchLimit:         c.SearchLimit,
		FilterThreshold:     c.FilterThreshold,
		StrictFilters:       c.StrictFilters,
		SoftDeleteRetention: c.SoftDeleteRetention,
	}
}

// Dynamo returns the DynamoDB store settings.
func (c *Config) Dynamo() store.DynamoConfig {
	return store.DynamoConfig{
		TablePrefix:     c.TablePrefix,
		SearchScanLimit: c.SearchScanLimit,
	}
}

// S3 returns the attachment bucket settings. ok is false when no bucket
// is configured.
func (c *Config) S3() (cfg files.S3Config, ok bool) {
	if c.FilesBucket == "" {
		return files.S3Config{}, false
	}
	return files.S3Config{
		Bucket:    c.FilesBucket,
		Prefix:    c.FilesPrefix,
		URLExpiry: c.FilesURLExpiry,
	}, true
}

// FetcherURLs parses Fetchers.
func (c *Config) FetcherURLs() (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(c.Fetchers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("malformed fetcher %q", pair)
		}
		out[name] = url
	}
	return out, nil
}
