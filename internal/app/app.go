// Package app builds and holds the long-lived services every command shares.
// It is the dependency container: commands ask it for a pipeline or an
// exporter and never construct collaborators themselves.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/classify"
	"github.com/JakeFAU/corpus-crawler/internal/clean"
	"github.com/JakeFAU/corpus-crawler/internal/clock"
	"github.com/JakeFAU/corpus-crawler/internal/config"
	"github.com/JakeFAU/corpus-crawler/internal/dedup"
	"github.com/JakeFAU/corpus-crawler/internal/export"
	"github.com/JakeFAU/corpus-crawler/internal/extract"
	"github.com/JakeFAU/corpus-crawler/internal/fetch"
	"github.com/JakeFAU/corpus-crawler/internal/frontier"
	"github.com/JakeFAU/corpus-crawler/internal/id/uuid"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
	"github.com/JakeFAU/corpus-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/corpus-crawler/internal/politeness"
	pubsubpub "github.com/JakeFAU/corpus-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/corpus-crawler/internal/storage/gcs"
	"github.com/JakeFAU/corpus-crawler/internal/storage/local"
	"github.com/JakeFAU/corpus-crawler/internal/store"
	"github.com/JakeFAU/corpus-crawler/internal/store/postgres"
	"github.com/JakeFAU/corpus-crawler/internal/store/sqlite"
)

const dialTimeout = 5 * time.Second

// RunOptions override the configured run for one crawl command.
type RunOptions struct {
	// Seeds replaces domains.seeds when non-empty. Bare domains are allowed.
	Seeds      []string
	Workers    int
	MaxPages   int
	MaxTime    time.Duration
	Continuous bool
}

// ExportOptions override the configured shard layout.
type ExportOptions struct {
	Dir       string
	ShardSize int
}

// App holds the shared services. It is built once per command invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  clock.Clock

	store      store.Store
	redis      *redis.Client
	gate       *politeness.Gate
	robots     *politeness.Robots
	fetcher    *fetch.Pool
	extractor  *extract.Extractor
	cleaner    *clean.Cleaner
	classifier *classify.Classifier
	dedup      *dedup.Detector

	shardOpts []export.ShardOption
	closers   []func() error
}

// Option customizes New.
type Option func(*App)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New opens the store, applies its schema and builds every processing
// component from cfg. It fails fast when a configured backend is unreachable.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: clock.Wall}
	for _, opt := range opts {
		opt(a)
	}

	if err := EnsureDirs(cfg.Storage); err != nil {
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.openRedis(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.openShardSinks(ctx); err != nil {
		return nil, a.abort(err)
	}
	if err := a.buildProcessors(); err != nil {
		return nil, a.abort(err)
	}

	logger.Info("application services initialized",
		zap.String("database", cfg.Database.Type),
		zap.Bool("shared_seen_set", a.redis != nil),
		zap.String("archive", cfg.Archive.Kind),
		zap.Bool("announce", cfg.PubSub.TopicName != ""))
	return a, nil
}

// EnsureDirs creates the working directories.
func EnsureDirs(s config.StorageConfig) error {
	for _, dir := range []string{s.DataDir, s.CacheDir, s.LogsDir, s.ShardsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (a *App) abort(err error) error {
	a.Close()
	return err
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Database.Type {
	case "postgres":
		st, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Database.Postgres.DSN,
			MaxConns: a.cfg.Database.Postgres.MaxConns,
		})
		if err != nil {
			return err
		}
		a.store = st
	default:
		path := a.cfg.Database.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
		st, err := sqlite.Open(path)
		if err != nil {
			return err
		}
		a.store = st
	}
	a.closers = append(a.closers, a.store.Close)
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", a.cfg.Database.Type, err)
	}
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	rc := a.cfg.Database.Redis
	if rc.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port)),
		DB:       rc.DB,
		Password: rc.Password,
	})
	a.closers = append(a.closers, client.Close)
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", client.Options().Addr, err)
	}
	a.redis = client
	return nil
}

// openShardSinks prepares the optional archive and announcer every shard
// manager is built with.
func (a *App) openShardSinks(ctx context.Context) error {
	switch a.cfg.Archive.Kind {
	case "gcs":
		bs, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket, Prefix: a.cfg.Archive.Prefix})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bs.Close)
		a.shardOpts = append(a.shardOpts, export.WithArchive(bs))
	case "local":
		bs, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return err
		}
		a.shardOpts = append(a.shardOpts, export.WithArchive(bs))
	}
	if a.cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpub.Dial(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		a.shardOpts = append(a.shardOpts, export.WithAnnouncer(pub, a.cfg.PubSub.TopicName))
	}
	return nil
}

func (a *App) buildProcessors() error {
	cfg := a.cfg
	a.gate = politeness.NewGate(politeness.Config{
		MinDelay:     cfg.Crawler.MinDelay(),
		RateLimitFor: cfg.Domains.RateLimitFor,
	}, a.clock)
	a.robots = politeness.NewRobots(politeness.RobotsConfig{
		Enabled:   cfg.Crawler.RespectRobots,
		UserAgent: cfg.Crawler.UserAgent,
	}, a.clock, a.logger)

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.HostRPS, DefaultBurst: 1})
	a.fetcher = fetch.NewPool(fetch.Config{
		Concurrency:   cfg.Crawler.Concurrency,
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.Crawler.FetchTimeout(),
		MaxRetries:    cfg.Crawler.MaxRetries,
		BackoffFactor: cfg.Crawler.BackoffFactor,
		MaxRedirects:  cfg.Crawler.MaxRedirects,
		MaxBodyBytes:  int64(cfg.Crawler.MaxBodyBytes),
	}, limiter, a.logger)
	a.closers = append(a.closers, func() error {
		a.fetcher.Close()
		return nil
	})

	a.extractor = extract.New(extract.Config{MinLength: cfg.Content.MinLength}, a.logger)
	a.cleaner = clean.New(clean.Config{
		MinLength:    cfg.Content.MinLength,
		RemoveEmojis: cfg.Content.RemoveEmojis,
		MaskPII:      cfg.Content.MaskPII,
	})
	classifier, err := classify.New(classify.Config{
		Allowed:       cfg.Topics.Allowed,
		Keywords:      cfg.Topics.Keywords,
		Patterns:      cfg.Topics.Patterns,
		Subdomains:    cfg.Topics.Subdomains,
		MinConfidence: cfg.Topics.MinConfidence,
	})
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}
	a.classifier = classifier
	a.dedup = dedup.NewDetector(a.store,
		dedup.NewHashingEmbedder(cfg.Dedup.EmbeddingDim, cfg.Dedup.MaxEmbeddingWords),
		a.clock, a.logger, dedup.Config{
			SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
			SimhashWindow:       cfg.Dedup.SimhashWindow,
			ExactEnabled:        cfg.Dedup.ExactEnabled,
			SimhashEnabled:      cfg.Dedup.SimhashEnabled,
			EmbeddingEnabled:    cfg.Dedup.EmbeddingEnabled,
		})
	return nil
}

// Seeds resolves the seed URLs for a run: the override when given, else the
// configured domains.
func (a *App) Seeds(override []string) []string {
	if len(override) > 0 {
		return config.DomainsConfig{Seeds: override}.SeedURLs()
	}
	return a.cfg.Domains.SeedURLs()
}

// Frontier builds a frontier over the shared store. When
// crawler.stay_on_seed_domains is set, discovered links are confined to the
// hosts of seeds.
func (a *App) Frontier(seeds []string) *frontier.Frontier {
	var allowed []string
	if a.cfg.Crawler.StayOnSeedDomains {
		for _, s := range seeds {
			if d := frontier.Domain(s); d != "" {
				allowed = append(allowed, d)
			}
		}
	}
	var shared frontier.SeenSet
	if a.redis != nil {
		shared = frontier.NewRedisSeenSet(a.redis, a.cfg.Database.Redis.Key)
	}
	return frontier.New(a.store, a.gate, a.robots, shared, a.clock, a.logger, frontier.Config{
		MaxDepth:     a.cfg.Crawler.MaxDepth,
		RetryDelay:   a.cfg.Crawler.RetryAfter(),
		AllowedHosts: allowed,
	})
}

// Exporter builds an exporter with a fresh shard manager. A closed exporter
// cannot be reused, so every command that writes shards asks for its own.
func (a *App) Exporter(opts ExportOptions) (*export.Exporter, error) {
	dir := opts.Dir
	if dir == "" {
		dir = a.cfg.Storage.ShardsDir
	}
	size := opts.ShardSize
	if size <= 0 {
		size = a.cfg.Export.ShardSize
	}
	shards, err := export.NewShardManager(a.store, uuid.New(), a.clock, a.logger, export.ShardConfig{
		Dir:       dir,
		Prefix:    a.cfg.Export.ShardPrefix,
		ShardSize: size,
	}, a.shardOpts...)
	if err != nil {
		return nil, err
	}
	return export.NewExporter(a.store, shards, a.logger, export.Config{
		MinLength:       a.cfg.Content.MinLength,
		DeliveryVersion: a.cfg.Export.DeliveryVersion,
		BatchSize:       a.cfg.Export.BatchSize,
	}), nil
}

// Pipeline assembles an orchestrator for one run.
func (a *App) Pipeline(opts RunOptions) (*pipeline.Pipeline, error) {
	seeds := a.Seeds(opts.Seeds)
	exporter, err := a.Exporter(ExportOptions{})
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = a.cfg.Crawler.Concurrency
	}
	return pipeline.New(pipeline.Deps{
		Store:      a.store,
		Frontier:   a.Frontier(seeds),
		Fetcher:    a.fetcher,
		Extractor:  a.extractor,
		Cleaner:    a.cleaner,
		Classifier: a.classifier,
		Dedup:      a.dedup,
		Exporter:   exporter,
		Clock:      a.clock,
		Logger:     a.logger,
	}, pipeline.Config{
		Seeds:              seeds,
		Workers:            workers,
		QueueSize:          a.cfg.Pipeline.BatchSize,
		CheckpointInterval: a.cfg.Pipeline.CheckpointInterval,
		CleanupEvery:       a.cfg.Pipeline.CleanupEvery,
		Retention:          a.cfg.Retention.RetentionWindow(),
		MaxPages:           opts.MaxPages,
		MaxTime:            opts.MaxTime,
		Continuous:         opts.Continuous,
		ExportBatch:        a.cfg.Export.BatchSize,
	}), nil
}

// Cleanup deletes resolved frontier rows and dedup entries older than
// olderThan.
func (a *App) Cleanup(ctx context.Context, olderThan time.Duration) (urls, entries int64, err error) {
	urls, err = a.Frontier(nil).Cleanup(ctx, olderThan)
	if err != nil {
		return 0, 0, err
	}
	entries, err = a.dedup.Cleanup(ctx, olderThan)
	if err != nil {
		return urls, 0, err
	}
	return urls, entries, nil
}

// PingRedis checks the shared seen-set backend. It reports false when Redis
// is not configured.
func (a *App) PingRedis(ctx context.Context) (bool, error) {
	if a.redis == nil {
		return false, nil
	}
	return true, a.redis.Ping(ctx).Err()
}

// GetConfig returns the configuration the app was built from.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetLogger returns the shared logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetStore returns the persistent store.
func (a *App) GetStore() store.Store { return a.store }

// Close releases every backend in reverse order of construction and flushes
// the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
