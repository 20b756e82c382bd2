// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Backend       BackendConfig       `yaml:"backend"`
	List          ListConfig          `yaml:"list"`
	Form          FormConfig          `yaml:"form"`
	Lookup        LookupConfig        `yaml:"lookup"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification. When Enabled is false the BFF
// accepts anonymous callers and forwards any bearer token unverified.
type IdentityConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// BackendConfig describes the records backend.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	Endpoints      EndpointsConfig      `yaml:"endpoints"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	// Largest JSON response body accepted, in bytes.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
	// Largest export file accepted, in bytes.
	MaxExportBytes int64 `yaml:"max_export_bytes"`
}

// EndpointsConfig holds the path templates of the records backend.
// {entity} and {id} are substituted per call.
type EndpointsConfig struct {
	Entities    string `yaml:"entities"`
	Metadata    string `yaml:"metadata"`
	Records     string `yaml:"records"`
	Record      string `yaml:"record"`
	ExportCSV   string `yaml:"export_csv"`
	ExportExcel string `yaml:"export_excel"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// ListConfig describes list view pagination.
type ListConfig struct {
	PageSizes       []int `yaml:"page_sizes"`
	DefaultPageSize int   `yaml:"default_page_size"`
	PageWindow      int   `yaml:"page_window"`
}

// FormConfig describes form materialization settings.
type FormConfig struct {
	// Locale orders field labels when the caller does not send one.
	Locale string `yaml:"locale"`
}

// LookupConfig describes the dropdown option cache.
type LookupConfig struct {
	Driver  string      `yaml:"driver"`
	AddrEnv string      `yaml:"addr_env"`
	DB      int         `yaml:"db"`
	Cache   CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// SessionsConfig describes list view session handling and persistence.
type SessionsConfig struct {
	IdleTimeout   time.Duration      `yaml:"idle_timeout"`
	SweepInterval time.Duration      `yaml:"sweep_interval"`
	MaxSessions   int                `yaml:"max_sessions"`
	Store         SessionStoreConfig `yaml:"store"`
}

// SessionStoreConfig describes where view state is persisted.
type SessionStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	AddrEnv         string        `yaml:"addr_env"`
	DB              int           `yaml:"db"`
	TTL             time.Duration `yaml:"ttl"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Store and cache drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  55 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language",
					"X-Correlation-Id"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
			Endpoints: EndpointsConfig{
				Entities:    "/master/entities",
				Metadata:    "/master/{entity}/metadata",
				Records:     "/master/{entity}/records",
				Record:      "/master/{entity}/records/{id}",
				ExportCSV:   "/master/{entity}/export/csv",
				ExportExcel: "/master/{entity}/export/excel",
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
				IdempotentOnly:    true,
			},
			MaxResponseBytes: 10 << 20,
			MaxExportBytes:   256 << 20,
		},
		List: ListConfig{
			PageSizes:       []int{10, 20, 50, 100},
			DefaultPageSize: 10,
			PageWindow:      5,
		},
		Form: FormConfig{
			Locale: "en",
		},
		Lookup: LookupConfig{
			Driver: DriverMemory,
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 1000,
			},
		},
		Sessions: SessionsConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 1 * time.Minute,
			MaxSessions:   10000,
			Store: SessionStoreConfig{
				Driver:          DriverMemory,
				TTL:             24 * time.Hour,
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Enabled {
		if c.Identity.Issuer == "" {
			errs = append(errs, "identity.issuer is required")
		}
		if c.Identity.JWKSURL == "" {
			errs = append(errs, "identity.jwks_url is required")
		}
		if c.Identity.Audience == "" {
			errs = append(errs, "identity.audience is required")
		}
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Backend.MaxResponseBytes < 0 || c.Backend.MaxExportBytes < 0 {
		errs = append(errs, "backend.max_response_bytes and backend.max_export_bytes must not be negative")
	}
	if len(c.List.PageSizes) == 0 {
		errs = append(errs, "list.page_sizes must not be empty")
	}
	for _, s := range c.List.PageSizes {
		if s < 1 {
			errs = append(errs, fmt.Sprintf("list.page_sizes: %d is not a positive size", s))
		}
	}
	if len(c.List.PageSizes) > 0 && !slices.Contains(c.List.PageSizes, c.List.DefaultPageSize) {
		errs = append(errs, "list.default_page_size must be one of list.page_sizes")
	}
	switch c.Lookup.Driver {
	case DriverMemory, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("lookup.driver %q is not supported", c.Lookup.Driver))
	}
	switch c.Sessions.Store.Driver {
	case DriverMemory, DriverRedis, DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("sessions.store.driver %q is not supported", c.Sessions.Store.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads MASTERDATA_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MASTERDATA_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MASTERDATA_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("MASTERDATA_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("MASTERDATA_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("MASTERDATA_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("MASTERDATA_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("MASTERDATA_LOOKUP_DRIVER"); v != "" {
		cfg.Lookup.Driver = v
	}
	if v := os.Getenv("MASTERDATA_SESSIONS_STORE_DRIVER"); v != "" {
		cfg.Sessions.Store.Driver = v
	}
}
