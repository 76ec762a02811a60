package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/duckprof/pkg/cache"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duckprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "duckprof.duckdb", cfg.TargetDatabase)
	assert.Equal(t, cfg.TargetDatabase, cfg.LogDatabase)
	assert.Equal(t, 5*time.Minute, cfg.QueryTimeout)
	assert.Equal(t, cache.BackendMemory, cfg.Cache.Backend)
	assert.False(t, cfg.Summarizer.Enabled())
	assert.False(t, cfg.LogFile.Enabled())
	assert.Equal(t, "0.0.0.0:8815", cfg.Flight.Address)
	assert.False(t, cfg.Remote.Enabled())
	assert.Equal(t, 10*time.Minute, cfg.Remote.Timeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
target_database: tpch.duckdb
log_database: log.duckdb
query_timeout: 30s
log_file:
  path: /var/log/duckprof.log
flight:
  address: 127.0.0.1:9999
  auth:
    enabled: true
    type: jwt
    jwt_auth:
      secret: s3cret
      issuer: duckprof
cache:
  backend: redis
  redis:
    addr: redis:6379
summarizer:
  provider: openai
  model: gpt-4o-mini
`)
	t.Setenv("DUCKPROF_ARTIFACTS_DIR", "/tmp/charts")
	t.Setenv("DUCKPROF_FLIGHT_ADDRESS", "0.0.0.0:7000")
	t.Setenv("DUCKPROF_REMOTE_ADDRESS", "prof.internal:8815")
	t.Setenv("DUCKPROF_MOTHERDUCK_TOKEN", "md-token")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "tpch.duckdb", cfg.TargetDatabase)
	assert.Equal(t, "log.duckdb", cfg.LogDatabase)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, "/tmp/charts", cfg.ArtifactsDir)
	assert.Equal(t, "0.0.0.0:7000", cfg.Flight.Address)
	assert.True(t, cfg.LogFile.Enabled())
	assert.Equal(t, 100, cfg.LogFile.MaxSizeMB)
	assert.Equal(t, AuthJWT, cfg.Flight.Auth.Type)
	assert.Equal(t, "s3cret", cfg.Flight.Auth.JWTAuth.Secret)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, cache.DefaultKeyPrefix, cfg.Cache.Redis.KeyPrefix)
	assert.True(t, cfg.Summarizer.Enabled())
	assert.True(t, cfg.Remote.Enabled())
	assert.Equal(t, "prof.internal:8815", cfg.Remote.Address)
	assert.Equal(t, "md-token", cfg.MotherDuckToken)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "target required", mutate: func(c *Config) { c.TargetDatabase = "" }, wantErr: "target database is required"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "unsupported log level"},
		{name: "negative timeout", mutate: func(c *Config) { c.QueryTimeout = -time.Second }, wantErr: "must not be negative"},
		{name: "negative remote timeout", mutate: func(c *Config) { c.Remote.Timeout = -time.Second }, wantErr: "remote timeout"},
		{name: "tls without files", mutate: func(c *Config) { c.Flight.TLS.Enabled = true }, wantErr: "TLS cert and key"},
		{name: "basic without users", mutate: func(c *Config) { c.Flight.Auth.Enabled = true }, wantErr: "basic auth requires users"},
		{
			name: "jwt without secret",
			mutate: func(c *Config) {
				c.Flight.Auth.Enabled = true
				c.Flight.Auth.Type = AuthJWT
			},
			wantErr: "JWT auth requires secret",
		},
		{
			name: "unknown auth",
			mutate: func(c *Config) {
				c.Flight.Auth.Enabled = true
				c.Flight.Auth.Type = "oauth2"
			},
			wantErr: "unsupported auth type",
		},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: "unsupported cache backend"},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Backend = cache.BackendRedis; c.Cache.Redis.Addr = "" }, wantErr: "requires an address"},
		{name: "openai without model", mutate: func(c *Config) { c.Summarizer.Provider = "openai" }, wantErr: "summarizer model is required"},
		{name: "unknown provider", mutate: func(c *Config) { c.Summarizer.Provider = "ollama" }, wantErr: "unsupported summarizer provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_FillsDerivedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDatabase = ""
	cfg.Pool.MaxOpenConnections = 0
	cfg.Pool.MaxIdleConnections = 50
	cfg.WriteTimeout = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.TargetDatabase, cfg.LogDatabase)
	assert.Equal(t, 8, cfg.Pool.MaxOpenConnections)
	assert.Equal(t, 8, cfg.Pool.MaxIdleConnections)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}
