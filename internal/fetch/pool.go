package fetch

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/corpus-crawler/internal/frontier"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
)

// DefaultUserAgent identifies the crawler when no user agent is configured.
const DefaultUserAgent = "LifeTipsCrawler/1.0"

// Config tunes the pool.
type Config struct {
	// Concurrency bounds in-flight requests across all workers.
	Concurrency int
	// Workers overrides the derived worker count min(8, max(1, Concurrency/8)).
	Workers       int
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	BackoffFactor float64
	MaxRedirects  int
	MaxBodyBytes  int64
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.Workers <= 0 {
		c.Workers = min(8, max(1, c.Concurrency/8))
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	return c
}

// Waiter paces attempts per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Pool.
type Option func(*Pool)

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Pool) { p.sleep = s }
}

// WithJitter replaces the backoff jitter source.
func WithJitter(j func() time.Duration) Option {
	return func(p *Pool) { p.jitter = j }
}

// Result is the final product of Fetch after retries.
type Result struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Header       http.Header
	Body         []byte
	ContentType  string
	ResponseTime time.Duration
	Attempts     int
	Outcome      Outcome
	// Err describes the last failure; nil on success.
	Err error
}

// OK reports whether the fetch produced a usable page.
func (r Result) OK() bool {
	return r.Outcome.Kind == Success
}

// Stats aggregates worker counters.
type Stats struct {
	RequestsMade        int64         `json:"requests_made"`
	Successful          int64         `json:"successful"`
	Failed              int64         `json:"failed"`
	BytesDownloaded     int64         `json:"bytes_downloaded"`
	TotalResponseTime   time.Duration `json:"total_response_time"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}

// Pool fans fetches out to a fixed set of workers under a global bound.
type Pool struct {
	cfg     Config
	workers []*worker
	next    atomic.Uint64
	sem     *semaphore.Weighted
	limiter Waiter
	sleep   Sleeper
	jitter  func() time.Duration
	logger  *zap.Logger
}

// NewPool builds the workers. limiter may be nil.
func NewPool(cfg Config, limiter Waiter, logger *zap.Logger, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: limiter,
		sleep:   sleepContext,
		jitter:  randomJitter,
		logger:  logger,
	}
	for i := range cfg.Workers {
		p.workers = append(p.workers, newWorker(i, cfg))
	}
	for _, opt := range opts {
		opt(p)
	}
	logger.Info("fetch pool ready",
		zap.Int("workers", cfg.Workers),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Duration("timeout", cfg.Timeout))
	return p
}

// Workers returns the worker count.
func (p *Pool) Workers() int { return len(p.workers) }

// Fetch downloads rawURL with one attempt plus up to MaxRetries retries.
// Permanent outcomes end the loop at once.
func (p *Pool) Fetch(ctx context.Context, rawURL string) Result {
	w := p.workers[int(p.next.Add(1)-1)%len(p.workers)]
	domain := frontier.Domain(rawURL)

	var res Result
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		res = p.attempt(ctx, w, rawURL, domain)
		res.Attempts = attempt + 1
		if res.Outcome.Kind != Retryable || attempt == p.cfg.MaxRetries {
			break
		}
		delay := p.backoff(attempt, res.Outcome)
		p.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.String("reason", res.Outcome.Reason),
			zap.Duration("delay", delay))
		if err := p.sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("fetch %s: %w", rawURL, err)
			break
		}
	}
	if res.Err == nil && !res.OK() {
		res.Err = fmt.Errorf("fetch %s: %s", rawURL, res.Outcome.Reason)
	}
	return res
}

func (p *Pool) attempt(ctx context.Context, w *worker, rawURL, domain string) Result {
	res := Result{URL: rawURL}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			res.Outcome = Outcome{Kind: Retryable, Reason: err.Error()}
			res.Err = err
			return res
		}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		res.Outcome = Outcome{Kind: Retryable, Reason: err.Error()}
		res.Err = fmt.Errorf("acquire fetch slot: %w", err)
		return res
	}
	metrics.IncActiveFetches()
	resp, err := w.do(ctx, rawURL)
	metrics.DecActiveFetches()
	p.sem.Release(1)

	if err != nil {
		w.record(false)
		metrics.ObserveFetch(domain, 0, 0, 0)
		res.Outcome = classifyError(err)
		res.Err = err
		return res
	}
	res.FinalURL = resp.finalURL
	res.StatusCode = resp.statusCode
	res.Header = resp.header
	res.Body = resp.body
	res.ContentType = resp.header.Get("Content-Type")
	res.ResponseTime = resp.elapsed
	res.Outcome = classifyResponse(resp.statusCode, resp.header, time.Now())
	w.record(res.Outcome.Kind == Success)
	metrics.ObserveFetch(domain, resp.statusCode, len(resp.body), resp.elapsed)
	return res
}

// backoff is factor^attempt seconds plus sub-second jitter, unless the
// server named its own delay.
func (p *Pool) backoff(attempt int, out Outcome) time.Duration {
	if out.RetryAfter > 0 {
		return out.RetryAfter
	}
	base := time.Duration(math.Pow(p.cfg.BackoffFactor, float64(attempt)) * float64(time.Second))
	return base + p.jitter()
}

// Stats sums the per-worker counters.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, w := range p.workers {
		s.RequestsMade += w.requests.Load()
		s.Successful += w.successes.Load()
		s.Failed += w.failures.Load()
		s.BytesDownloaded += w.bytes.Load()
		s.TotalResponseTime += time.Duration(w.elapsedNs.Load())
	}
	if s.RequestsMade > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.RequestsMade)
		s.AverageResponseTime = s.TotalResponseTime / time.Duration(s.RequestsMade)
	}
	return s
}

// Close drops idle connections.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.transport.CloseIdleConnections()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter() time.Duration {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(time.Second)))
	if err != nil {
		return 500 * time.Millisecond
	}
	return time.Duration(n.Int64())
}
