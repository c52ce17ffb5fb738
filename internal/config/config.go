package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port             string        `yaml:"port"`
	DatabaseURL      string        `yaml:"db_dsn"`
	StoreDriver      string        `yaml:"store_driver"`
	SQLitePath       string        `yaml:"sqlite_path"`
	AutoMigrate      bool          `yaml:"auto_migrate"`
	CountersSeedFile string        `yaml:"counters_seed_file"`
	LogLevel         string        `yaml:"log_level"`
	RealtimePrefix   string        `yaml:"realtime_prefix"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	TrustProxy       bool          `yaml:"trust_proxy_headers"`
	ShutdownTimeout  time.Duration `yaml:"-"`
	ShutdownSeconds  int           `yaml:"shutdown_timeout_seconds"`
}

func defaults() Config {
	return Config{
		Port:            "8080",
		SQLitePath:      "queue.db",
		AutoMigrate:     true,
		LogLevel:        "info",
		RealtimePrefix:  "/realtime",
		RateLimitPerMin: 120,
		RateLimitBurst:  30,
		ShutdownSeconds: 10,
	}
}

// Load reads the optional YAML file named by QUEUE_CONFIG_FILE, then
// applies environment variables on top of it.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("QUEUE_CONFIG_FILE"); path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = readString("PORT", cfg.Port)
	cfg.DatabaseURL = readString("DB_DSN", cfg.DatabaseURL)
	cfg.StoreDriver = strings.ToLower(readString("STORE_DRIVER", cfg.StoreDriver))
	cfg.SQLitePath = readString("SQLITE_PATH", cfg.SQLitePath)
	cfg.AutoMigrate = readBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.CountersSeedFile = readString("COUNTERS_SEED_FILE", cfg.CountersSeedFile)
	cfg.LogLevel = readString("LOG_LEVEL", cfg.LogLevel)
	cfg.RealtimePrefix = readString("REALTIME_PREFIX", cfg.RealtimePrefix)
	cfg.RateLimitPerMin = readInt("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	cfg.RateLimitBurst = readInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.TrustProxy = readBool("TRUST_PROXY_HEADERS", cfg.TrustProxy)
	cfg.ShutdownTimeout = readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownSeconds)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = DriverPostgres
		}
	}
	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.NotValidf("store driver %q without DB_DSN", cfg.StoreDriver)
		}
	case DriverSQLite, DriverMemory:
	default:
		return Config{}, errors.NotValidf("store driver %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotatef(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Annotatef(err, "parse config file %s", path)
	}
	return nil
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
