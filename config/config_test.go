package config_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/canopy/config"
)

// clearEnv unsets every variable Config reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	typ := reflect.TypeOf(config.Config{})
	for i := 0; i < typ.NumField(); i++ {
		name := typ.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.StoreDynamo, cfg.Store)
	assert.Equal(t, "X-User-Id", cfg.UserHeader)
	assert.Equal(t, 15*time.Minute, cfg.FilesURLExpiry)

	ec := cfg.Engine()
	assert.Equal(t, 100, ec.BulkLimit)
	assert.Equal(t, 1000, ec.FilterThreshold)
	assert.False(t, ec.StrictFilters)
	assert.Zero(t, ec.SoftDeleteRetention)

	dc := cfg.Dynamo()
	assert.Equal(t, "canopy_", dc.TablePrefix)
	assert.Equal(t, 5000, dc.SearchScanLimit)

	_, ok := cfg.S3()
	assert.False(t, ok)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANOPY_STORE", "memory")
	t.Setenv("CANOPY_STRICT_FILTERS", "true")
	t.Setenv("CANOPY_SOFT_DELETE_RETENTION", "720h")
	t.Setenv("CANOPY_FILES_BUCKET", "uploads")
	t.Setenv("CANOPY_FILES_PREFIX", "prod/")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.True(t, cfg.Engine().StrictFilters)
	assert.Equal(t, 30*24*time.Hour, cfg.Engine().SoftDeleteRetention)

	s3, ok := cfg.S3()
	require.True(t, ok)
	assert.Equal(t, "uploads", s3.Bucket)
	assert.Equal(t, "prod/", s3.Prefix)
}

func TestLoad_Dotenv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CANOPY_ADDR=:9090\nCANOPY_TABLE_PREFIX=dev_\n"), 0o600))
	t.Setenv("CANOPY_TABLE_PREFIX", "ci_")

	cfg, err := config.Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "ci_", cfg.TablePrefix)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"store", "CANOPY_STORE", "postgres"},
		{"log level", "CANOPY_LOG_LEVEL", "loud"},
		{"log format", "CANOPY_LOG_FORMAT", "xml"},
		{"number", "CANOPY_BULK_LIMIT", "many"},
		{"fetchers", "CANOPY_FETCHERS", "=nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{LogLevel: "warn", LogFormat: "json"}
	var buf bytes.Buffer
	logger, closer, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "table", "task")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "task", line["table"])
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canopy.log")
	cfg := &config.Config{LogLevel: "info", LogFormat: "text", LogFile: path, LogMaxSize: 1}
	var buf bytes.Buffer
	logger, closer, err := cfg.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "msg=\"to file\"")
	assert.Zero(t, buf.Len())
}

func TestFetcherURLs(t *testing.T) {
	cfg := &config.Config{Fetchers: "preview=https://preview.internal/v1, geo=http://geo:8080"}
	urls, err := cfg.FetcherURLs()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"preview": "https://preview.internal/v1",
		"geo":     "http://geo:8080",
	}, urls)

	cfg.Fetchers = "preview"
	_, err = cfg.FetcherURLs()
	require.Error(t, err)

	cfg.Fetchers = ""
	urls, err = cfg.FetcherURLs()
	require.NoError(t, err)
	assert.Empty(t, urls)
}
