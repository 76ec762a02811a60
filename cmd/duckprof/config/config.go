// Package config provides configuration structures for duckprof.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TFMV/duckprof/pkg/cache"
	"github.com/TFMV/duckprof/pkg/summarizer"
)

// EnvPrefix prefixes environment overrides, e.g. DUCKPROF_FLIGHT_ADDRESS.
const EnvPrefix = "DUCKPROF"

// Config represents the engine and server configuration.
type Config struct {
	// Target database whose queries are analyzed.
	TargetDatabase string `mapstructure:"target_database"`
	// Log database holding query_log. Defaults to the target database.
	LogDatabase string `mapstructure:"log_database"`
	// ArtifactsDir receives the rendered charts.
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	// ProfileDir receives temporary profile files. Empty means the OS temp dir.
	ProfileDir string `mapstructure:"profile_dir"`
	// MotherDuckToken is added to md: database names that lack one.
	MotherDuckToken string `mapstructure:"motherduck_token"`

	LogLevel string        `mapstructure:"log_level"`
	LogFile  LogFileConfig `mapstructure:"log_file"`

	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Pool       PoolConfig        `mapstructure:"pool"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Flight     FlightConfig      `mapstructure:"flight"`
	Remote     RemoteConfig      `mapstructure:"remote"`
	Cache      cache.Config      `mapstructure:"cache"`
	Summarizer summarizer.Config `mapstructure:"summarizer"`
}

// LogFileConfig configures the rotating log file.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Enabled reports whether logs are also written to a file.
func (c LogFileConfig) Enabled() bool {
	return c.Path != ""
}

// PoolConfig represents connection pool configuration.
type PoolConfig struct {
	MaxOpenConnections int           `mapstructure:"max_open_connections"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `mapstructure:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `mapstructure:"health_check_period"`
	ConnectionTimeout  time.Duration `mapstructure:"connection_timeout"`

	EnableCircuitBreaker    bool          `mapstructure:"enable_circuit_breaker"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	SlowQueryThreshold      time.Duration `mapstructure:"slow_query_threshold"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

// FlightConfig represents the Flight server configuration.
type FlightConfig struct {
	Address        string     `mapstructure:"address"`
	MaxMessageSize int        `mapstructure:"max_message_size"`
	MaxStreams     uint32     `mapstructure:"max_streams"`
	Health         bool       `mapstructure:"health"`
	Reflection     bool       `mapstructure:"reflection"`
	TLS            TLSConfig  `mapstructure:"tls"`
	Auth           AuthConfig `mapstructure:"auth"`
}

// RemoteConfig points the CLI at a running server instead of a local
// database. An empty Address means local.
type RemoteConfig struct {
	Address  string        `mapstructure:"address"`
	TLS      bool          `mapstructure:"tls"`
	Token    string        `mapstructure:"token"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether commands go to a server.
func (c RemoteConfig) Enabled() bool {
	return c.Address != ""
}

// TLSConfig represents TLS configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Auth types.
const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthJWT    = "jwt"
)

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // basic, bearer, jwt

	BasicAuth  BasicAuthConfig  `mapstructure:"basic_auth"`
	BearerAuth BearerAuthConfig `mapstructure:"bearer_auth"`
	JWTAuth    JWTAuthConfig    `mapstructure:"jwt_auth"`
}

// BasicAuthConfig represents basic authentication configuration.
type BasicAuthConfig struct {
	Users map[string]UserInfo `mapstructure:"users"`
}

// UserInfo represents user information.
type UserInfo struct {
	Password string   `mapstructure:"password"`
	Roles    []string `mapstructure:"roles"`
}

// BearerAuthConfig represents bearer token authentication configuration.
type BearerAuthConfig struct {
	Tokens map[string]string `mapstructure:"tokens"` // token -> username
}

// JWTAuthConfig represents JWT authentication configuration. Tokens are
// HMAC signed with Secret.
type JWTAuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		TargetDatabase:  "duckprof.duckdb",
		ArtifactsDir:    "charts",
		LogLevel:        "info",
		QueryTimeout:    5 * time.Minute,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogFile: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Pool: PoolConfig{
			MaxOpenConnections:      8,
			MaxIdleConnections:      4,
			ConnMaxLifetime:         30 * time.Minute,
			ConnMaxIdleTime:         10 * time.Minute,
			HealthCheckPeriod:       time.Minute,
			ConnectionTimeout:       30 * time.Second,
			EnableCircuitBreaker:    true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   30 * time.Second,
			SlowQueryThreshold:      time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   ":9090",
			Namespace: "duckprof",
		},
		Flight: FlightConfig{
			Address:        "0.0.0.0:8815",
			MaxMessageSize: 16 * 1024 * 1024,
			MaxStreams:     100,
			Health:         true,
			Reflection:     true,
			Auth: AuthConfig{
				Type: AuthBasic,
			},
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Minute,
		},
		Cache:      *cache.DefaultConfig(),
		Summarizer: summarizer.DefaultConfig(),
	}
}

// SetDefaults registers every default with v so that environment variables
// and flags can override keys that the config file leaves out.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("target_database", d.TargetDatabase)
	v.SetDefault("log_database", d.LogDatabase)
	v.SetDefault("artifacts_dir", d.ArtifactsDir)
	v.SetDefault("profile_dir", d.ProfileDir)
	v.SetDefault("motherduck_token", d.MotherDuckToken)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file.path", d.LogFile.Path)
	v.SetDefault("log_file.max_size_mb", d.LogFile.MaxSizeMB)
	v.SetDefault("log_file.max_backups", d.LogFile.MaxBackups)
	v.SetDefault("log_file.max_age_days", d.LogFile.MaxAgeDays)
	v.SetDefault("log_file.compress", d.LogFile.Compress)
	v.SetDefault("query_timeout", d.QueryTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("pool.max_open_connections", d.Pool.MaxOpenConnections)
	v.SetDefault("pool.max_idle_connections", d.Pool.MaxIdleConnections)
	v.SetDefault("pool.conn_max_lifetime", d.Pool.ConnMaxLifetime)
	v.SetDefault("pool.conn_max_idle_time", d.Pool.ConnMaxIdleTime)
	v.SetDefault("pool.health_check_period", d.Pool.HealthCheckPeriod)
	v.SetDefault("pool.connection_timeout", d.Pool.ConnectionTimeout)
	v.SetDefault("pool.enable_circuit_breaker", d.Pool.EnableCircuitBreaker)
	v.SetDefault("pool.circuit_breaker_threshold", d.Pool.CircuitBreakerThreshold)
	v.SetDefault("pool.circuit_breaker_timeout", d.Pool.CircuitBreakerTimeout)
	v.SetDefault("pool.slow_query_threshold", d.Pool.SlowQueryThreshold)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("flight.address", d.Flight.Address)
	v.SetDefault("flight.max_message_size", d.Flight.MaxMessageSize)
	v.SetDefault("flight.max_streams", d.Flight.MaxStreams)
	v.SetDefault("flight.health", d.Flight.Health)
	v.SetDefault("flight.reflection", d.Flight.Reflection)
	v.SetDefault("flight.tls.enabled", d.Flight.TLS.Enabled)
	v.SetDefault("flight.tls.cert_file", d.Flight.TLS.CertFile)
	v.SetDefault("flight.tls.key_file", d.Flight.TLS.KeyFile)
	v.SetDefault("flight.auth.enabled", d.Flight.Auth.Enabled)
	v.SetDefault("flight.auth.type", d.Flight.Auth.Type)
	v.SetDefault("flight.auth.jwt_auth.secret", "")
	v.SetDefault("flight.auth.jwt_auth.issuer", "")
	v.SetDefault("flight.auth.jwt_auth.audience", "")

	v.SetDefault("remote.address", d.Remote.Address)
	v.SetDefault("remote.tls", d.Remote.TLS)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.username", d.Remote.Username)
	v.SetDefault("remote.password", d.Remote.Password)
	v.SetDefault("remote.timeout", d.Remote.Timeout)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)
	v.SetDefault("cache.redis.key_prefix", d.Cache.Redis.KeyPrefix)
	v.SetDefault("cache.redis.dial_timeout", d.Cache.Redis.DialTimeout)

	v.SetDefault("summarizer.provider", d.Summarizer.Provider)
	v.SetDefault("summarizer.model", d.Summarizer.Model)
	v.SetDefault("summarizer.token", d.Summarizer.Token)
	v.SetDefault("summarizer.base_url", d.Summarizer.BaseURL)
	v.SetDefault("summarizer.max_tokens", d.Summarizer.MaxTokens)
	v.SetDefault("summarizer.temperature", d.Summarizer.Temperature)
	v.SetDefault("summarizer.timeout", d.Summarizer.Timeout)
}

// BindEnv makes v read DUCKPROF_* variables, with nested keys joined by "_".
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file, applies defaults and environment
// overrides, and validates the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	if c.TargetDatabase == "" {
		return fmt.Errorf("target database is required")
	}
	if c.LogDatabase == "" {
		c.LogDatabase = c.TargetDatabase
	}
	if c.ArtifactsDir == "" {
		return fmt.Errorf("artifacts dir is required")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}

	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote timeout must not be negative")
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	if c.Pool.MaxOpenConnections <= 0 {
		c.Pool.MaxOpenConnections = 8
	}
	if c.Pool.MaxIdleConnections <= 0 || c.Pool.MaxIdleConnections > c.Pool.MaxOpenConnections {
		c.Pool.MaxIdleConnections = c.Pool.MaxOpenConnections
	}
	if c.Pool.ConnectionTimeout <= 0 {
		c.Pool.ConnectionTimeout = 30 * time.Second
	}

	if c.Flight.MaxMessageSize <= 0 {
		c.Flight.MaxMessageSize = 16 * 1024 * 1024
	}
	if c.Flight.TLS.Enabled && (c.Flight.TLS.CertFile == "" || c.Flight.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	if c.Flight.Auth.Enabled {
		switch c.Flight.Auth.Type {
		case AuthBasic:
			if len(c.Flight.Auth.BasicAuth.Users) == 0 {
				return fmt.Errorf("basic auth requires users")
			}
		case AuthBearer:
			if len(c.Flight.Auth.BearerAuth.Tokens) == 0 {
				return fmt.Errorf("bearer auth requires tokens")
			}
		case AuthJWT:
			if c.Flight.Auth.JWTAuth.Secret == "" {
				return fmt.Errorf("JWT auth requires secret")
			}
		default:
			return fmt.Errorf("unsupported auth type: %s", c.Flight.Auth.Type)
		}
	}

	switch c.Cache.Backend {
	case "", cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("redis cache requires an address")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}

	switch c.Summarizer.Provider {
	case "", summarizer.ProviderNone:
	case summarizer.ProviderOpenAI:
		if c.Summarizer.Model == "" {
			return fmt.Errorf("summarizer model is required")
		}
	default:
		return fmt.Errorf("unsupported summarizer provider: %s", c.Summarizer.Provider)
	}

	return nil
}
