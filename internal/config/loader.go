package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentwire.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTWIRE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTWIRE_CORS_ORIGIN")
	setString(&cfg.Backend.URL, "AGENTWIRE_BACKEND_URL")
	setDuration(&cfg.Backend.RequestTimeout, "AGENTWIRE_BACKEND_TIMEOUT")
	setString(&cfg.Store.Driver, "AGENTWIRE_STORE_DRIVER")
	setInt64(&cfg.Store.MemoryMB, "AGENTWIRE_STORE_MEMORY_MB")
	setDuration(&cfg.Store.LocalTTL, "AGENTWIRE_STORE_LOCAL_TTL")
	setString(&cfg.Store.Bucket, "AGENTWIRE_STORE_BUCKET")
	setDuration(&cfg.Store.BucketTTL, "AGENTWIRE_STORE_BUCKET_TTL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTWIRE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTWIRE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTWIRE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTWIRE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTWIRE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "AGENTWIRE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTWIRE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTWIRE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTWIRE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTWIRE_BREAKER_TIMEOUT")
	setString(&cfg.Telemetry.Endpoint, "AGENTWIRE_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "AGENTWIRE_OTLP_INSECURE")
	setString(&cfg.Chat.DefaultAgent, "AGENTWIRE_DEFAULT_AGENT")
	setBool(&cfg.Chat.AutoApproval, "AGENTWIRE_AUTO_APPROVAL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	switch cfg.Store.Driver {
	case "memory":
		if cfg.Store.MemoryMB < 1 {
			return errors.New("store.memory_mb must be >= 1")
		}
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for the nats store")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
	case "tiered":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the tiered store")
		}
		if cfg.Store.MemoryMB < 1 {
			return errors.New("store.memory_mb must be >= 1")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, nats, postgres, tiered", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" || cfg.Store.Driver == "tiered" {
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
