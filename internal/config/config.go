package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"turismo/internal/domain"
)

const (
	TaxonomyFromFile     = "file"
	TaxonomyFromPostgres = "postgres"
)

type Config struct {
	Env        string
	ListenAddr string
	LogLevel   string

	AnalyticsBaseURL string
	AnalyticsToken   string
	AnalyticsTimeout time.Duration
	AnalyticsRetries int

	SumStrategy domain.SumStrategy
	Debug       bool

	TaxonomySource string
	TaxonomyFile   string
	DatabaseURL    string
	// SeedFile, when set with the postgres source, is imported before loading.
	SeedFile       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	WarmWorkers  int
	WarmInterval time.Duration
	// WarmOnStart fills the cache synchronously before the listener opens.
	WarmOnStart  bool
}

// Load reads a .env file when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Env:        getenv("APP_ENV", "development"),
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),

		AnalyticsBaseURL: os.Getenv("ANALYTICS_BASE_URL"),
		AnalyticsToken:   os.Getenv("ANALYTICS_TOKEN"),
		AnalyticsTimeout: getenvDuration("ANALYTICS_TIMEOUT", 10*time.Second),
		AnalyticsRetries: getenvInt("ANALYTICS_RETRIES", 2),

		SumStrategy: domain.SumStrategy(getenv("SUM_STRATEGY", string(domain.StrategySum))),
		Debug:       getenvBool("DRILLDOWN_DEBUG", false),

		TaxonomySource: getenv("TAXONOMY_SOURCE", TaxonomyFromFile),
		TaxonomyFile:   getenv("TAXONOMY_FILE", "config/taxonomy.yaml"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SeedFile:       os.Getenv("TAXONOMY_SEED_FILE"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),
		CacheTTL:      getenvDuration("CACHE_TTL", 5*time.Minute),

		WarmWorkers:  getenvInt("WARM_WORKERS", 0),
		WarmInterval: getenvDuration("WARM_INTERVAL", 15*time.Minute),
		WarmOnStart:  getenvBool("WARM_ON_START", false),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.AnalyticsBaseURL == "" {
		return errors.New("ANALYTICS_BASE_URL not set")
	}
	if !c.SumStrategy.Valid() {
		return fmt.Errorf("SUM_STRATEGY %q: want sum or last", c.SumStrategy)
	}
	switch c.TaxonomySource {
	case TaxonomyFromFile:
		if c.TaxonomyFile == "" {
			return errors.New("TAXONOMY_FILE not set")
		}
	case TaxonomyFromPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL not set; required when TAXONOMY_SOURCE=postgres")
		}
	default:
		return fmt.Errorf("TAXONOMY_SOURCE %q: want file or postgres", c.TaxonomySource)
	}
	if c.AnalyticsRetries < 0 {
		return errors.New("ANALYTICS_RETRIES must not be negative")
	}
	if c.WarmWorkers > 0 && c.WarmInterval <= 0 {
		return errors.New("WARM_INTERVAL must be positive when WARM_WORKERS > 0")
	}
	return nil
}

// CacheEnabled reports whether a Redis address was configured.
func (c Config) CacheEnabled() bool { return c.RedisAddr != "" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(v); err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(v); err == nil {
			return out
		}
	}
	return def
}
