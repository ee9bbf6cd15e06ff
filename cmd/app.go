package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"profile-indexer/application"
	"profile-indexer/domain"
	"profile-indexer/infrastructure/config"
	"profile-indexer/infrastructure/embedding"
	"profile-indexer/infrastructure/logging"
	"profile-indexer/infrastructure/sqlitestore"
	"profile-indexer/infrastructure/vectorstore"
)

// app is the wired pipeline for one command invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	profiles *sqlitestore.Store
	index    domain.IndexStore
	pool     *application.WorkerPool
	reindex  *application.ReindexCoordinator
	indexing *application.IndexingService
	search   *application.SearchService

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}

	profiles, err := sqlitestore.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	a.profiles = profiles
	a.closers = append(a.closers, profiles.Close)

	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	newEncoder := encoderFactory(cfg.Embedding)
	queryEncoder, err := newEncoder(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open embedding client: %w", err)
	}

	a.pool = application.NewWorkerPool(poolConfig(cfg.Pool), application.NewProfileIndexer(profiles, a.index), newEncoder, logger)
	a.closers = append(a.closers, func() error { a.pool.Close(); return nil })

	var lock application.Locker
	if cfg.Reindex.LockPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Reindex.LockPath), 0o755); err != nil {
			a.Close()
			return nil, err
		}
		lock = flock.New(cfg.Reindex.LockPath)
	}
	a.reindex = application.NewReindexCoordinator(profiles, a.pool, lock, application.ReindexConfig{
		Concurrency:    cfg.Reindex.Concurrency,
		JobWaitTimeout: cfg.Reindex.JobWaitTimeout,
	}, logger)
	a.indexing = application.NewIndexingService(profiles, a.index, a.pool, a.reindex, logger)
	a.search = application.NewSearchService(profiles, a.index, queryEncoder, cfg.SearchDefaultLimit, logger)

	profiles.SetEventSink(a.indexing)
	return a, nil
}

func (a *app) openIndex(ctx context.Context) error {
	switch a.cfg.Index.Backend {
	case config.BackendQdrant:
		q, err := vectorstore.NewQdrantClient(ctx, vectorstore.QdrantConfig{
			Addr:       a.cfg.Index.QdrantAddr,
			Collection: a.cfg.Index.QdrantCollection,
			Dimension:  a.cfg.Embedding.Dimension,
		}, a.log)
		if err != nil {
			return fmt.Errorf("open qdrant index: %w", err)
		}
		a.index = q
		a.closers = append(a.closers, q.Close)
	default:
		if err := os.MkdirAll(a.cfg.Index.BadgerDir, 0o755); err != nil {
			return err
		}
		b, err := vectorstore.OpenBadgerStore(a.cfg.Index.BadgerDir)
		if err != nil {
			return err
		}
		a.index = b
		a.closers = append(a.closers, b.Close)
	}
	return nil
}

// Close releases resources in reverse order of acquisition, so the pool
// stops before the stores it writes to.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

func encoderFactory(cfg config.EmbeddingConfig) domain.EmbeddingClientFactory {
	if cfg.Provider == config.ProviderOpenAI {
		return func(context.Context) (domain.EmbeddingClient, error) {
			return embedding.NewOpenAIEmbeddingClient(embedding.OpenAIConfig{
				APIKey:     cfg.APIKey,
				BaseURL:    cfg.BaseURL,
				Model:      cfg.Model,
				Dimensions: cfg.Dimension,
			})
		}
	}
	return func(context.Context) (domain.EmbeddingClient, error) {
		return embedding.NewHashingEmbeddingClient(cfg.Dimension), nil
	}
}

func poolConfig(c config.PoolConfig) application.PoolConfig {
	pc := application.DefaultPoolConfig()
	pc.Workers = c.Workers
	pc.QueueSize = c.QueueSize
	pc.MaxRetries = c.MaxRetries
	pc.BaseBackoff = c.BaseBackoff
	pc.MaxBackoff = c.MaxBackoff
	pc.JobTimeout = c.JobTimeout
	pc.MaxTasksPerWorker = c.MaxTasksPerWorker
	pc.MaxWorkerHeapBytes = uint64(c.MaxWorkerHeapMB) << 20
	pc.ResultTTL = c.ResultTTL
	return pc
}
