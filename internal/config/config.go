// Package config loads the cachegate configuration: a YAML file, an
// optional .env file and CACHEGATE_* environment overrides, in that order.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/lifecycle"
	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/policy"
	"github.com/Sternrassler/cachegate/pkg/precache"
	"github.com/Sternrassler/cachegate/pkg/retryqueue"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CACHEGATE_"

// Storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete cachegate configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Build    BuildConfig    `yaml:"build" envPrefix:"BUILD_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Fetch    FetchConfig    `yaml:"fetch" envPrefix:"FETCH_"`
	Queue    QueueConfig    `yaml:"queue" envPrefix:"QUEUE_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	Offline  OfflineConfig  `yaml:"offline" envPrefix:"OFFLINE_"`
	Precache PrecacheConfig `yaml:"precache" envPrefix:"PRECACHE_"`
	Policies []policy.Spec  `yaml:"policies"`
}

// ServerConfig configures the host server.
type ServerConfig struct {
	Listen          string        `yaml:"listen" env:"LISTEN"`
	Origin          string        `yaml:"origin" env:"ORIGIN"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// BuildConfig identifies the deployed build.
type BuildConfig struct {
	Version string `yaml:"version" env:"VERSION"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string      `yaml:"backend" env:"BACKEND"`
	Path    string      `yaml:"path" env:"PATH"`
	Redis   RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// FetchConfig configures the origin fetcher.
type FetchConfig struct {
	AttemptTimeout   time.Duration `yaml:"attemptTimeout" env:"ATTEMPT_TIMEOUT"`
	MaxAttempts      int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
	BaseDelay        time.Duration `yaml:"baseDelay" env:"BASE_DELAY"`
	MaxDelay         time.Duration `yaml:"maxDelay" env:"MAX_DELAY"`
	Jitter           float64       `yaml:"jitter" env:"JITTER"`
	RetryRateLimited bool          `yaml:"retryRateLimited" env:"RETRY_RATE_LIMITED"`
	UserAgent        string        `yaml:"userAgent" env:"USER_AGENT"`
}

// QueueConfig configures the retry queue.
type QueueConfig struct {
	MaxAge        time.Duration `yaml:"maxAge" env:"MAX_AGE"`
	DrainInterval time.Duration `yaml:"drainInterval" env:"DRAIN_INTERVAL"`
	RetryDelay    time.Duration `yaml:"retryDelay" env:"RETRY_DELAY"`
	Concurrency   int           `yaml:"concurrency" env:"CONCURRENCY"`
	StripHeaders  []string      `yaml:"stripHeaders" env:"STRIP_HEADERS" envSeparator:","`
}

// LoggingConfig configures logging. Pretty is nil when unset so the
// terminal check decides.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty *bool  `yaml:"pretty" env:"PRETTY"`
}

// OfflineConfig points at custom fallback documents.
type OfflineConfig struct {
	PageFile  string `yaml:"pageFile" env:"PAGE_FILE"`
	ImageFile string `yaml:"imageFile" env:"IMAGE_FILE"`
}

// PrecacheConfig lists the URLs fetched after every cutover. Relative URLs
// are resolved against server.origin.
type PrecacheConfig struct {
	URLs           []string      `yaml:"urls" env:"URLS" envSeparator:","`
	MaxConcurrency int           `yaml:"maxConcurrency" env:"MAX_CONCURRENCY"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	f := fetch.DefaultConfig()
	q := retryqueue.DefaultConfig()
	p := precache.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Build: BuildConfig{Version: "dev"},
		Storage: StorageConfig{
			Backend: BackendLevelDB,
			Path:    "data/cachegate",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "cachegate:"},
		},
		Fetch: FetchConfig{
			AttemptTimeout:   f.AttemptTimeout,
			MaxAttempts:      f.MaxAttempts,
			BaseDelay:        f.BaseDelay,
			MaxDelay:         f.MaxDelay,
			Jitter:           f.Jitter,
			RetryRateLimited: f.RetryRateLimited,
			UserAgent:        f.UserAgent,
		},
		Queue: QueueConfig{
			MaxAge:        q.MaxAge,
			DrainInterval: q.DrainInterval,
			RetryDelay:    q.RetryDelay,
			Concurrency:   q.Concurrency,
			StripHeaders:  q.StripHeaders,
		},
		Logging: LoggingConfig{Level: string(logging.LevelInfo)},
		Precache: PrecacheConfig{
			MaxConcurrency: p.MaxConcurrency,
			Timeout:        p.Timeout,
		},
	}
}

// Load reads .env (if present), the YAML file at path (skipped when path
// is empty), then applies CACHEGATE_* overrides and validates the result.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. The origin is checked separately by
// ValidateOrigin because only the server needs it.
func (c *Config) Validate() error {
	if err := lifecycle.ValidateVersion(c.Build.Version); err != nil {
		return fmt.Errorf("%w: build.version: %v", ErrInvalid, err)
	}

	switch c.Storage.Backend {
	case BackendLevelDB:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for leveldb", ErrInvalid)
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("%w: storage.redis.addr is required for redis", ErrInvalid)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: storage.backend must be leveldb, redis or memory (got %q)", ErrInvalid, c.Storage.Backend)
	}

	if _, err := fetch.New(c.FetchConfig()); err != nil {
		return fmt.Errorf("%w: fetch: %v", ErrInvalid, err)
	}
	if c.Queue.Concurrency < 0 {
		return fmt.Errorf("%w: queue.concurrency must be >= 0", ErrInvalid)
	}
	if _, err := policy.FromSpecs(c.Policies); err != nil {
		return fmt.Errorf("%w: policies: %v", ErrInvalid, err)
	}
	return nil
}

// ValidateOrigin checks that server.origin is an absolute http(s) URL.
func (c *Config) ValidateOrigin() error {
	o := strings.TrimSpace(c.Server.Origin)
	if o == "" {
		return fmt.Errorf("%w: server.origin is required", ErrInvalid)
	}
	if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
		return fmt.Errorf("%w: server.origin must start with http:// or https:// (got %q)", ErrInvalid, o)
	}
	return nil
}

// Classifier compiles the configured policies.
func (c *Config) Classifier() (*policy.Classifier, error) {
	return policy.FromSpecs(c.Policies)
}

// FetchConfig returns the fetcher configuration.
func (c *Config) FetchConfig() fetch.Config {
	return fetch.Config{
		AttemptTimeout:   c.Fetch.AttemptTimeout,
		MaxAttempts:      c.Fetch.MaxAttempts,
		BaseDelay:        c.Fetch.BaseDelay,
		MaxDelay:         c.Fetch.MaxDelay,
		Jitter:           c.Fetch.Jitter,
		RetryRateLimited: c.Fetch.RetryRateLimited,
		UserAgent:        c.Fetch.UserAgent,
	}
}

// QueueConfig returns the retry queue configuration.
func (c *Config) QueueConfig() retryqueue.Config {
	return retryqueue.Config{
		MaxAge:        c.Queue.MaxAge,
		DrainInterval: c.Queue.DrainInterval,
		RetryDelay:    c.Queue.RetryDelay,
		Concurrency:   c.Queue.Concurrency,
		StripHeaders:  c.Queue.StripHeaders,
	}
}

// PrecacheConfig returns the warmer configuration.
func (c *Config) PrecacheConfig() precache.Config {
	return precache.Config{
		MaxConcurrency: c.Precache.MaxConcurrency,
		Timeout:        c.Precache.Timeout,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	if c.Logging.Pretty != nil {
		cfg.Pretty = *c.Logging.Pretty
	}
	return cfg
}

// PrecacheURLs resolves the precache list against the origin.
func (c *Config) PrecacheURLs() []string {
	origin := strings.TrimRight(c.Server.Origin, "/")
	out := make([]string, 0, len(c.Precache.URLs))
	for _, u := range c.Precache.URLs {
		u = strings.TrimSpace(u)
		switch {
		case u == "":
			continue
		case strings.HasPrefix(u, "/") && origin != "":
			out = append(out, origin+u)
		default:
			out = append(out, u)
		}
	}
	return out
}

// OfflineDocuments reads the configured fallback page and image. Unset
// files yield nil so the built-in documents are used.
func (c *Config) OfflineDocuments() (page, image []byte, err error) {
	if c.Offline.PageFile != "" {
		if page, err = os.ReadFile(c.Offline.PageFile); err != nil {
			return nil, nil, fmt.Errorf("read offline page: %w", err)
		}
	}
	if c.Offline.ImageFile != "" {
		if image, err = os.ReadFile(c.Offline.ImageFile); err != nil {
			return nil, nil, fmt.Errorf("read offline image: %w", err)
		}
	}
	return page, image, nil
}

// OpenBackend opens the configured persistence backend and checks that it
// answers.
func (c *Config) OpenBackend(ctx context.Context) (storage.Backend, error) {
	var backend storage.Backend
	switch c.Storage.Backend {
	case BackendLevelDB:
		if err := os.MkdirAll(c.Storage.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		db, err := storage.OpenLevelDB(c.Storage.Path)
		if err != nil {
			return nil, err
		}
		backend = db
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
		})
		backend = storage.NewRedis(client, c.Storage.Redis.Prefix)
	default:
		backend = storage.NewMemory()
	}

	if err := backend.Ping(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("storage %s unreachable: %w", c.Storage.Backend, err)
	}
	return backend, nil
}
