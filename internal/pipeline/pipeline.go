// Package pipeline drives a crawl. It claims URLs from the frontier, fans
// fetches out to a goroutine group and runs every page through extraction,
// cleaning, classification, duplicate detection and export on a single
// orchestrator goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/corpus-crawler/internal/classify"
	"github.com/JakeFAU/corpus-crawler/internal/clean"
	"github.com/JakeFAU/corpus-crawler/internal/clock"
	"github.com/JakeFAU/corpus-crawler/internal/dedup"
	"github.com/JakeFAU/corpus-crawler/internal/export"
	"github.com/JakeFAU/corpus-crawler/internal/extract"
	"github.com/JakeFAU/corpus-crawler/internal/fetch"
	"github.com/JakeFAU/corpus-crawler/internal/frontier"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// ErrAlreadyRunning is returned by Run when the pipeline is not stopped.
var ErrAlreadyRunning = errors.New("pipeline already running")

// State is the orchestrator lifecycle.
type State int32

// Lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Fetcher downloads one URL, retries included.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) fetch.Result
}

// Config tunes the run.
type Config struct {
	// Seeds are added when the frontier holds no rows at all.
	Seeds []string
	// Workers is the number of fetch goroutines.
	Workers int
	// QueueSize is the capacity of the claimed-URL channel.
	QueueSize          int
	CheckpointInterval int
	// CleanupEvery runs retention cleanup every CleanupEvery checkpoints.
	CleanupEvery int
	Retention    time.Duration
	// MaxPages stops claiming after this many URLs; zero is unlimited.
	MaxPages int
	// MaxTime stops claiming after this long; zero is unlimited.
	MaxTime time.Duration
	// Continuous keeps polling an empty frontier instead of stopping.
	Continuous bool
	// FetchBudget bounds one Fetch call, retries included. It is detached
	// from shutdown so in-flight fetches can finish.
	FetchBudget time.Duration
	// IdleWait caps how long the loop sleeps when nothing is admissible.
	IdleWait    time.Duration
	ExportBatch int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 1000
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = 10
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.FetchBudget <= 0 {
		c.FetchBudget = 5 * time.Minute
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 5 * time.Second
	}
	if c.ExportBatch <= 0 {
		c.ExportBatch = 100
	}
	return c
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Store      store.Store
	Frontier   *frontier.Frontier
	Fetcher    Fetcher
	Extractor  *extract.Extractor
	Cleaner    *clean.Cleaner
	Classifier *classify.Classifier
	Dedup      *dedup.Detector
	Exporter   *export.Exporter
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Pipeline is the crawl orchestrator.
type Pipeline struct {
	store      store.Store
	frontier   *frontier.Frontier
	fetcher    Fetcher
	extractor  *extract.Extractor
	cleaner    *clean.Cleaner
	classifier *classify.Classifier
	dedup      *dedup.Detector
	exporter   *export.Exporter
	clock      clock.Clock
	logger     *zap.Logger
	cfg        Config

	state   atomic.Int32
	started atomic.Int64
	stats   statsBox
}

// New builds a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      deps.Store,
		frontier:   deps.Frontier,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		cleaner:    deps.Cleaner,
		classifier: deps.Classifier,
		dedup:      deps.Dedup,
		exporter:   deps.Exporter,
		clock:      deps.Clock,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// State reports the lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() Stats { return p.stats.snapshot() }

// Elapsed is the wall time since the current or last run started.
func (p *Pipeline) Elapsed() time.Duration {
	started := p.started.Load()
	if started == 0 {
		return 0
	}
	return p.clock.Now().Sub(time.Unix(0, started))
}

// Run starts the pipeline and blocks until it stops: when ctx is cancelled,
// when MaxPages or MaxTime is reached, or when a bounded crawl drains the
// frontier. Shutdown work runs even after ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return Stats{}, ErrAlreadyRunning
	}
	defer p.state.Store(int32(StateStopped))
	p.started.Store(p.clock.Now().UnixNano())

	if err := p.start(ctx); err != nil {
		return p.stats.snapshot(), err
	}
	p.state.Store(int32(StateRunning))
	p.logger.Info("pipeline running",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("max_pages", p.cfg.MaxPages),
		zap.Duration("max_time", p.cfg.MaxTime),
		zap.Bool("continuous", p.cfg.Continuous),
	)

	p.loop(ctx)

	p.state.Store(int32(StateStopping))
	err := p.shutdown(context.WithoutCancel(ctx))
	return p.stats.snapshot(), err
}

func (p *Pipeline) start(ctx context.Context) error {
	if err := p.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	recovered, err := p.exporter.Shards().Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover shards: %w", err)
	}
	reset, err := p.frontier.RecoverProcessing(ctx)
	if err != nil {
		return err
	}
	seen, err := p.frontier.Load(ctx)
	if err != nil {
		return err
	}
	indexed, err := p.dedup.Load(ctx)
	if err != nil {
		return fmt.Errorf("load dedup index: %w", err)
	}

	fs, err := p.frontier.Stats(ctx)
	if err != nil {
		return err
	}
	seeded := 0
	if fs.Total == 0 && len(p.cfg.Seeds) > 0 {
		if seeded, err = p.frontier.Seed(ctx, p.cfg.Seeds); err != nil {
			return err
		}
	}
	p.logger.Info("pipeline started",
		zap.Int("shards_recovered", recovered),
		zap.Int64("urls_reset", reset),
		zap.Int("seen_urls", seen),
		zap.Int("indexed_documents", indexed),
		zap.Int("seeded", seeded),
		zap.Int64("pending", fs.Pending),
	)
	return nil
}

type fetched struct {
	row     *store.FrontierURL
	res     fetch.Result
	elapsed time.Duration
}

// loop owns every frontier, dedup, exporter and store mutation. Fetch
// goroutines only download.
func (p *Pipeline) loop(ctx context.Context) {
	work := context.WithoutCancel(ctx)
	maxInflight := p.cfg.Workers + p.cfg.QueueSize
	jobs := make(chan *store.FrontierURL, p.cfg.QueueSize)
	results := make(chan fetched, maxInflight)

	var g errgroup.Group
	for range p.cfg.Workers {
		g.Go(func() error {
			for row := range jobs {
				results <- p.fetch(work, row)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var deadline <-chan time.Time
	if p.cfg.MaxTime > 0 {
		t := time.NewTimer(p.cfg.MaxTime)
		defer t.Stop()
		deadline = t.C
	}
	done := ctx.Done()

	producing := true
	inflight, dispatched := 0, 0
	stopProducing := func(reason string) {
		if !producing {
			return
		}
		producing = false
		close(jobs)
		p.logger.Info("stopping crawl", zap.String("reason", reason), zap.Int("in_flight", inflight))
	}

	for {
		var wake <-chan time.Time
		if producing {
			wait, drained := time.Duration(0), false
			for inflight < maxInflight && len(jobs) < cap(jobs) && !p.pageCapReached(dispatched) {
				row, err := p.frontier.Next(work)
				if errors.Is(err, frontier.ErrNoneAdmissible) {
					wait, drained = p.untilWake(work)
					break
				}
				if err != nil {
					p.logger.Error("claim next url", zap.Error(err))
					wait = p.cfg.IdleWait
					break
				}
				jobs <- row
				inflight++
				dispatched++
			}
			switch {
			case p.pageCapReached(dispatched):
				stopProducing("max pages reached")
			case drained && inflight == 0 && !p.cfg.Continuous:
				stopProducing("frontier drained")
			case drained && inflight == 0:
				wake = time.After(p.cfg.IdleWait)
			case wait > 0:
				wake = time.After(wait)
			}
		}
		if !producing && inflight == 0 {
			return
		}

		select {
		case f := <-results:
			inflight--
			p.handle(work, f)
		case <-wake:
		case <-deadline:
			deadline = nil
			stopProducing("max time reached")
		case <-done:
			done = nil
			stopProducing("shutdown requested")
		}
	}
}

func (p *Pipeline) pageCapReached(dispatched int) bool {
	return p.cfg.MaxPages > 0 && dispatched >= p.cfg.MaxPages
}

// untilWake returns how long to sleep before the gate admits a domain with
// due URLs, and whether there are no due URLs at all.
func (p *Pipeline) untilWake(ctx context.Context) (time.Duration, bool) {
	at, err := p.frontier.NextWake(ctx)
	if errors.Is(err, frontier.ErrEmpty) {
		return 0, true
	}
	if err != nil {
		p.logger.Error("frontier wake time", zap.Error(err))
		return p.cfg.IdleWait, false
	}
	wait := clock.Until(p.clock, at)
	return min(max(wait, 50*time.Millisecond), p.cfg.IdleWait), false
}

func (p *Pipeline) fetch(ctx context.Context, row *store.FrontierURL) fetched {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchBudget)
	defer cancel()
	start := time.Now()
	res := p.fetcher.Fetch(ctx, row.URL)
	return fetched{row: row, res: res, elapsed: time.Since(start)}
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	var errs []error
	if n, err := p.exporter.ExportPending(ctx, p.cfg.ExportBatch); err != nil {
		errs = append(errs, fmt.Errorf("final export sweep: %w", err))
	} else if n > 0 {
		p.stats.update(func(s *Stats) { s.EntriesExported += int64(n) })
	}
	if err := p.exporter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("finalize shard: %w", err))
	}
	if err := p.checkpoint(ctx); err != nil {
		errs = append(errs, err)
	}

	s := p.stats.snapshot()
	elapsed := p.Elapsed()
	p.logger.Info("crawl finished",
		zap.Int64("pages_crawled", s.PagesCrawled),
		zap.Int64("pages_successful", s.PagesSuccessful),
		zap.Int64("pages_failed", s.PagesFailed),
		zap.Int64("content_allowed", s.ContentAllowed),
		zap.Int64("content_rejected", s.ContentRejected),
		zap.Int64("duplicates_found", s.DuplicatesFound),
		zap.Int64("entries_exported", s.EntriesExported),
		zap.Float64("success_rate", s.SuccessRate()),
		zap.Float64("acceptance_rate", s.AcceptanceRate()),
		zap.Float64("duplicate_rate", s.DuplicateRate()),
		zap.Float64("pages_per_second", s.PagesPerSecond(elapsed)),
		zap.Duration("elapsed", elapsed),
	)
	return errors.Join(errs...)
}

func (p *Pipeline) checkpoint(ctx context.Context) error {
	return SaveCheckpoint(ctx, p.store, newCheckpoint(p.stats.snapshot(), p.clock.Now()))
}
