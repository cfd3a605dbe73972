// Package config loads the gateway's runtime configuration from environment
// variables (prefix WESGW_) and an optional YAML file, the way the rest of
// this codebase's ambient stack does: env-var helpers with typed defaults,
// layered under viper for CLI/file overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

var loadedConfig *Config

// Config holds every option named in the gateway's external interface
// table, plus the ambient fields (listen address, logging, queue backend)
// every deployment of this service needs.
type Config struct {
	// HTTP surface
	ListenAddr string

	// Admission controller / workspace
	StoragePath      string
	DBInsertAttempts int
	IDCharset        string
	IDLength         int
	TimeoutPost      time.Duration // 0 = disabled

	// Background tracker
	TimeoutJob      time.Duration
	PollingWait     time.Duration
	PollingAttempts int
	DefaultTimeout  time.Duration // defaults.timeout: per-poll timeout

	// Query controllers
	DefaultPageSize int

	// Upstream engine selection (currently fixed/configured, §4.3 step 3)
	UpstreamHost     string
	UpstreamBasePath string

	// Database
	DatabaseURL string

	// Durable tracker dispatch queue
	NATS NATSConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Reconciliation sweep
	ReconcileEnabled  bool
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// NATSConfig configures the durable at-least-once queue used to hand runs
// off from the admission controller to the background tracker.
type NATSConfig struct {
	Enabled       bool
	Embedded      bool
	URL           string
	Stream        string
	SubjectPrefix string
	ConsumerName  string
}

// Load builds a Config from environment variables, falling back to the
// defaults below. When configFile (the --config flag) is non-empty, viper
// reads it and its upstream.host and upstream.base_path values, where set,
// override the environment; no other field is read from the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WESGW")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		ListenAddr: getEnvOrDefault("WESGW_LISTEN_ADDR", ":8080"),

		StoragePath:      getEnvOrDefault("WESGW_STORAGE_PATH", defaultStoragePath()),
		DBInsertAttempts: getEnvIntOrDefault("WESGW_DB_INSERT_ATTEMPTS", 10),
		IDCharset:        getEnvOrDefault("WESGW_ID_CHARSET", "0123456789abcdefghijklmnopqrstuvwxyz"),
		IDLength:         getEnvIntOrDefault("WESGW_ID_LENGTH", 6),
		TimeoutPost:      getEnvDurationOrDefault("WESGW_TIMEOUT_POST", 30*time.Second),

		TimeoutJob:      getEnvDurationOrDefault("WESGW_TIMEOUT_JOB", 24*time.Hour),
		PollingWait:     getEnvDurationOrDefault("WESGW_POLLING_WAIT", 5*time.Second),
		PollingAttempts: getEnvIntOrDefault("WESGW_POLLING_ATTEMPTS", 5),
		DefaultTimeout:  getEnvDurationOrDefault("WESGW_DEFAULT_TIMEOUT", 10*time.Second),

		DefaultPageSize: getEnvIntOrDefault("WESGW_DEFAULT_PAGE_SIZE", 20),

		UpstreamHost:     getEnvOrDefault("WESGW_UPSTREAM_HOST", ""),
		UpstreamBasePath: getEnvOrDefault("WESGW_UPSTREAM_BASE_PATH", "/ga4gh/wes/v1"),

		DatabaseURL: getEnvOrDefault("WESGW_DATABASE_URL", defaultDatabasePath()),

		NATS: NATSConfig{
			Enabled:       getEnvBoolOrDefault("WESGW_NATS_ENABLED", true),
			Embedded:      getEnvBoolOrDefault("WESGW_NATS_EMBEDDED", true),
			URL:           getEnvOrDefault("WESGW_NATS_URL", ""),
			Stream:        getEnvOrDefault("WESGW_NATS_STREAM", "WES_TRACKER"),
			SubjectPrefix: getEnvOrDefault("WESGW_NATS_SUBJECT_PREFIX", "wes"),
			ConsumerName:  getEnvOrDefault("WESGW_NATS_CONSUMER", "tracker"),
		},

		LogLevel:  getEnvOrDefault("WESGW_LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("WESGW_LOG_FORMAT", "text"),

		ReconcileEnabled:  getEnvBoolOrDefault("WESGW_RECONCILE_ENABLED", false),
		ReconcileInterval: getEnvDurationOrDefault("WESGW_RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileGrace:    getEnvDurationOrDefault("WESGW_RECONCILE_GRACE", 10*time.Minute),
	}

	if v.ConfigFileUsed() != "" {
		if host := v.GetString("upstream.host"); host != "" {
			cfg.UpstreamHost = host
		}
		if base := v.GetString("upstream.base_path"); base != "" {
			cfg.UpstreamBasePath = base
		}
	}

	loadedConfig = cfg
	return cfg, nil
}

// GetLoadedConfig returns the currently loaded configuration, or nil if
// Load has not been called yet.
func GetLoadedConfig() *Config {
	return loadedConfig
}

func defaultStoragePath() string {
	return filepath.Join(GetDataDir(), "runs")
}

func defaultDatabasePath() string {
	return filepath.Join(GetDataDir(), "gateway.db")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
