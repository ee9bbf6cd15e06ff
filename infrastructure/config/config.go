package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Index backends.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
)

// Embedding providers.
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
)

// IndexConfig selects where the dedicated index lives.
type IndexConfig struct {
	Backend          string `yaml:"backend"`
	BadgerDir        string `yaml:"badger_dir"`
	QdrantAddr       string `yaml:"qdrant_addr"`
	QdrantCollection string `yaml:"qdrant_collection"`
}

// EmbeddingConfig selects the vector encoder.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
}

// PoolConfig bounds the indexing worker pool.
type PoolConfig struct {
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	MaxTasksPerWorker int           `yaml:"max_tasks_per_worker"`
	MaxWorkerHeapMB   int           `yaml:"max_worker_heap_mb"`
	ResultTTL         time.Duration `yaml:"result_ttl"`
}

// ReindexConfig tunes bulk runs.
type ReindexConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	JobWaitTimeout time.Duration `yaml:"job_wait_timeout"`
	LockPath       string        `yaml:"lock_path"`
}

// Config is the in-memory representation of the profile-indexer YAML file.
type Config struct {
	SQLitePath         string          `yaml:"sqlite_path"`
	LogLevel           string          `yaml:"log_level"`
	LogFormat          string          `yaml:"log_format"`
	SearchDefaultLimit int             `yaml:"search_default_limit"`
	Index              IndexConfig     `yaml:"index"`
	Embedding          EmbeddingConfig `yaml:"embedding"`
	Pool               PoolConfig      `yaml:"pool"`
	Reindex            ReindexConfig   `yaml:"reindex"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		SQLitePath:         "data/profiles.db",
		LogLevel:           "info",
		LogFormat:          "console",
		SearchDefaultLimit: 5,
		Index: IndexConfig{
			Backend:          BackendBadger,
			BadgerDir:        "data/index",
			QdrantAddr:       "localhost:6334",
			QdrantCollection: "profile_embeddings",
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderHashing,
			Model:     "text-embedding-3-small",
			Dimension: 256,
		},
		Pool: PoolConfig{
			Workers:           2,
			QueueSize:         256,
			MaxRetries:        3,
			BaseBackoff:       time.Second,
			MaxBackoff:        time.Minute,
			JobTimeout:        10 * time.Minute,
			MaxTasksPerWorker: 10,
			MaxWorkerHeapMB:   200,
			ResultTTL:         time.Hour,
		},
		Reindex: ReindexConfig{
			Concurrency:    1,
			JobWaitTimeout: 5 * time.Minute,
			LockPath:       "data/reindex.lock",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// $PROFILE_INDEXER_CONFIG), .env.local and the environment, in that order.
// A missing YAML file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PROFILE_INDEXER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load(".env.local")
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("PROFILE_INDEXER_SQLITE_PATH", &c.SQLitePath)
	str("PROFILE_INDEXER_LOG_LEVEL", &c.LogLevel)
	str("PROFILE_INDEXER_LOG_FORMAT", &c.LogFormat)
	str("PROFILE_INDEXER_INDEX_BACKEND", &c.Index.Backend)
	str("PROFILE_INDEXER_BADGER_DIR", &c.Index.BadgerDir)
	str("QDRANT_ADDR", &c.Index.QdrantAddr)
	str("QDRANT_COLLECTION_NAME", &c.Index.QdrantCollection)
	str("PROFILE_INDEXER_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("EMBEDDING_MODEL", &c.Embedding.Model)
	str("OPENAI_BASE_URL", &c.Embedding.BaseURL)
	str("OPENAI_API_KEY", &c.Embedding.APIKey)

	for key, dst := range map[string]*int{
		"PROFILE_INDEXER_WORKERS":             &c.Pool.Workers,
		"PROFILE_INDEXER_EMBEDDING_DIMENSION": &c.Embedding.Dimension,
		"PROFILE_INDEXER_REINDEX_CONCURRENCY": &c.Reindex.Concurrency,
	} {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path must be set"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format %q: want json or console", c.LogFormat))
	}
	switch c.Index.Backend {
	case BackendBadger, BackendQdrant:
	default:
		errs = append(errs, fmt.Errorf("index.backend %q: want %s or %s", c.Index.Backend, BackendBadger, BackendQdrant))
	}
	switch c.Embedding.Provider {
	case ProviderHashing, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q: want %s or %s", c.Embedding.Provider, ProviderHashing, ProviderOpenAI))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	if c.Pool.Workers <= 0 {
		errs = append(errs, errors.New("pool.workers must be positive"))
	}
	if c.Pool.QueueSize <= 0 {
		errs = append(errs, errors.New("pool.queue_size must be positive"))
	}
	if c.Pool.MaxRetries < 0 {
		errs = append(errs, errors.New("pool.max_retries must not be negative"))
	}
	if c.Reindex.Concurrency <= 0 {
		errs = append(errs, errors.New("reindex.concurrency must be positive"))
	}
	return errors.Join(errs...)
}
