package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithMemoryBackend(t *testing.T) {
	t.Setenv("CNW_META_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "license", cfg.Meta.DefaultKey)
	assert.Equal(t, 15*time.Minute, cfg.Storage.Expires)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Storage.UseRemote)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := writeFile(t, "server.yaml", `
server:
  addr: ":9000"
  read_timeout: 5s
database:
  url: postgres://file/db
meta:
  backend: postgres
storage:
  use_remote: true
  bucket: file-bucket
  prefix: themes/
`)
	t.Setenv("CNW_STORAGE_BUCKET", "env-bucket")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, "postgres://file/db", cfg.Database.URL)
	assert.Equal(t, "env-bucket", cfg.Storage.Bucket, "env overrides file")
	assert.Equal(t, "themes/", cfg.Storage.Prefix)
	assert.True(t, cfg.Storage.UseRemote)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	t.Setenv("CNW_META_BACKEND", "memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Meta.Backend)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "server: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_SecretAccessKeyFile(t *testing.T) {
	secret := writeFile(t, "secret", "  s3cr3t\n")
	t.Setenv("CNW_META_BACKEND", "memory")
	t.Setenv("CNW_STORAGE_SECRET_ACCESS_KEY_FILE", secret)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Storage.SecretAccessKey)
}

func TestLoad_SecretAccessKeyWins(t *testing.T) {
	t.Setenv("CNW_META_BACKEND", "memory")
	t.Setenv("CNW_STORAGE_SECRET_ACCESS_KEY", "inline")
	t.Setenv("CNW_STORAGE_SECRET_ACCESS_KEY_FILE", filepath.Join(t.TempDir(), "absent"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "inline", cfg.Storage.SecretAccessKey)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres needs database url", func(c *Config) {}, "database.url"},
		{"unknown backend", func(c *Config) { c.Meta.Backend = "etcd" }, "unknown meta backend"},
		{"redis needs url", func(c *Config) { c.Meta.Backend = BackendRedis }, "meta.url"},
		{"remote needs bucket", func(c *Config) {
			c.Meta.Backend = BackendMemory
			c.Storage.UseRemote = true
		}, "storage.bucket"},
		{"empty default key", func(c *Config) {
			c.Meta.Backend = BackendMemory
			c.Meta.DefaultKey = ""
		}, "default_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	cfg := Defaults()
	cfg.Meta.Backend = BackendRedis
	cfg.Meta.URL = "redis://localhost:6379"
	assert.NoError(t, cfg.Validate())
}
