// Package frontier owns the crawl queue: URL admission, politeness-aware
// selection, resolution bookkeeping and link discovery.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

var (
	// ErrNoneAdmissible is returned by Next when no due URL belongs to a
	// domain the politeness gate admits right now.
	ErrNoneAdmissible = errors.New("no admissible url")
	// ErrEmpty is returned by NextWake when nothing is pending and due.
	ErrEmpty = errors.New("frontier has no due urls")
)

const (
	// SeedPriority ranks seeds ahead of discovered links.
	SeedPriority = 100
	// DiscoveredPriority is the priority of links found on crawled pages.
	DiscoveredPriority = 0

	defaultRetryDelay = time.Hour
)

// Store is the persistence the frontier needs.
type Store interface {
	store.FrontierStore
	store.SeenStore
}

// Gate is the politeness surface the frontier consults.
type Gate interface {
	CanRequest(domain string) bool
	RecordRequest(domain string)
	SoonestAvailable(domains []string) time.Time
	RaiseMinDelay(domain string, d time.Duration)
}

// RobotsChecker answers robots.txt questions.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(host string) time.Duration
}

// Config tunes admission.
type Config struct {
	// MaxDepth drops discovered links deeper than this; zero disables the cap.
	MaxDepth int
	// RetryDelay is the default reschedule delay for retryable failures.
	RetryDelay time.Duration
	// AllowedHosts restricts discovered links to these hosts and their
	// subdomains. Empty means unrestricted.
	AllowedHosts []string
}

// Frontier is the URL queue. Admission and resolution are safe to call from
// one goroutine at a time; the pipeline confines all calls to its loop.
type Frontier struct {
	store  Store
	gate   Gate
	robots RobotsChecker
	local  *MemorySeenSet
	shared SeenSet
	clock  clock.Clock
	logger *zap.Logger
	cfg    Config
	hosts  map[string]struct{}
}

// New builds a Frontier. shared may be nil.
func New(
	st Store,
	gate Gate,
	robots RobotsChecker,
	shared SeenSet,
	clk clock.Clock,
	logger *zap.Logger,
	cfg Config,
) *Frontier {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hosts := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		h = strings.TrimPrefix(strings.ToLower(h), "www.")
		if h != "" {
			hosts[h] = struct{}{}
		}
	}
	return &Frontier{
		store:  st,
		gate:   gate,
		robots: robots,
		local:  NewMemorySeenSet(),
		shared: shared,
		clock:  clk,
		logger: logger,
		cfg:    cfg,
		hosts:  hosts,
	}
}

// Load warms the in-memory seen set from the persistent hash index.
func (f *Frontier) Load(ctx context.Context) (int, error) {
	hashes, err := f.store.AllSeenHashes(ctx)
	if err != nil {
		return 0, fmt.Errorf("load seen hashes: %w", err)
	}
	for _, h := range hashes {
		_, _ = f.local.Add(ctx, h)
	}
	return len(hashes), nil
}

// Add admits rawURL as pending unless it is malformed or was seen before.
func (f *Frontier) Add(ctx context.Context, rawURL string, priority int, meta store.Metadata) (bool, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return false, err
	}
	hash := URLHash(normalized)
	if seen, _ := f.local.Contains(ctx, hash); seen {
		return false, nil
	}
	if f.shared != nil {
		taken, err := f.shared.Contains(ctx, hash)
		if err != nil {
			return false, fmt.Errorf("shared seen set: %w", err)
		}
		if taken {
			_, _ = f.local.Add(ctx, hash)
			return false, nil
		}
	}

	row := &store.FrontierURL{
		URL:          normalized,
		Domain:       Domain(normalized),
		Priority:     priority,
		Depth:        meta.Depth(),
		Status:       store.StatusPending,
		DiscoveredAt: f.clock.Now(),
		Metadata:     meta,
	}
	inserted, err := f.store.InsertURL(ctx, row)
	if err != nil {
		return false, fmt.Errorf("add url: %w", err)
	}
	// The shared set only learns about rows that exist.
	if f.shared != nil {
		fresh, err := f.shared.Add(ctx, hash)
		switch {
		case err != nil:
			f.logger.Warn("record shared seen hash", zap.String("url", normalized), zap.Error(err))
		case !fresh && inserted:
			f.logger.Debug("url admitted concurrently by another crawler", zap.String("url", normalized))
		}
	}
	_, _ = f.local.Add(ctx, hash)
	return inserted, nil
}

// Seed adds seeds at SeedPriority and returns how many were new.
func (f *Frontier) Seed(ctx context.Context, urls []string) (int, error) {
	added := 0
	for _, u := range urls {
		ok, err := f.Add(ctx, u, SeedPriority, store.Metadata{"seed": true, "depth": 0})
		if errors.Is(err, ErrInvalidURL) {
			f.logger.Warn("skipping invalid seed", zap.String("url", u), zap.Error(err))
			continue
		}
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	f.logger.Info("seeded frontier", zap.Int("requested", len(urls)), zap.Int("added", added))
	return added, nil
}

// AddDiscovered admits links found on parent at DiscoveredPriority, one level
// deeper than parent. It returns how many were new.
func (f *Frontier) AddDiscovered(ctx context.Context, parent *store.FrontierURL, links []string) (int, error) {
	depth := parent.Depth + 1
	if f.cfg.MaxDepth > 0 && depth > f.cfg.MaxDepth {
		return 0, nil
	}
	added := 0
	for _, link := range links {
		if !f.hostAllowed(Domain(link)) {
			continue
		}
		ok, err := f.Add(ctx, link, DiscoveredPriority, store.Metadata{
			"discovered_from": parent.URL,
			"depth":           depth,
		})
		if errors.Is(err, ErrInvalidURL) {
			continue
		}
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (f *Frontier) hostAllowed(host string) bool {
	if len(f.hosts) == 0 {
		return true
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")
	for allowed := range f.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// Next claims the best admissible URL. Robots-disallowed candidates are
// resolved as skipped and the search continues.
func (f *Frontier) Next(ctx context.Context) (*store.FrontierURL, error) {
	for {
		now := f.clock.Now()
		domains, err := f.store.PendingDomains(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("next url: %w", err)
		}
		admissible := domains[:0:0]
		for _, d := range domains {
			if f.gate.CanRequest(d) {
				admissible = append(admissible, d)
			}
		}
		if len(admissible) == 0 {
			return nil, ErrNoneAdmissible
		}

		row, err := f.store.NextPending(ctx, admissible, now)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoneAdmissible
		}
		if err != nil {
			return nil, fmt.Errorf("next url: %w", err)
		}
		if err := f.store.Claim(ctx, row.ID, now); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				continue
			}
			return nil, fmt.Errorf("claim url: %w", err)
		}
		row.Status = store.StatusProcessing
		row.AttemptCount++
		row.LastAttempted = &now

		if !f.robots.Allowed(ctx, row.URL) {
			f.logger.Debug("url blocked by robots.txt", zap.String("url", row.URL))
			if err := f.resolve(ctx, row.ID, row.URL, store.SeenSkipped); err != nil {
				return nil, err
			}
			continue
		}
		if d := f.robots.CrawlDelay(row.Domain); d > 0 {
			f.gate.RaiseMinDelay(row.Domain, d)
		}
		f.gate.RecordRequest(row.Domain)
		return row, nil
	}
}

// NextWake reports when the politeness gate will next admit one of the
// domains holding due URLs. It returns ErrEmpty when there are none.
func (f *Frontier) NextWake(ctx context.Context) (time.Time, error) {
	domains, err := f.store.PendingDomains(ctx, f.clock.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("next wake: %w", err)
	}
	if len(domains) == 0 {
		return time.Time{}, ErrEmpty
	}
	return f.gate.SoonestAvailable(domains), nil
}

// MarkCompleted resolves a claimed URL as crawled.
func (f *Frontier) MarkCompleted(ctx context.Context, id int64, rawURL string) error {
	return f.resolve(ctx, id, rawURL, store.SeenCrawled)
}

// MarkFailed either reschedules a claimed URL after delay (retry) or resolves
// it as failed. A non-positive delay uses the configured retry delay.
func (f *Frontier) MarkFailed(ctx context.Context, id int64, rawURL string, retry bool, delay time.Duration) error {
	if !retry {
		if err := f.store.Fail(ctx, id); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return f.recordSeen(ctx, rawURL, store.SeenFailed)
	}
	if delay <= 0 {
		delay = f.cfg.RetryDelay
	}
	if err := f.store.Reschedule(ctx, id, f.clock.Now().Add(delay)); err != nil {
		return fmt.Errorf("reschedule url: %w", err)
	}
	return nil
}

// Release hands a claimed but unfetched URL back as immediately due.
func (f *Frontier) Release(ctx context.Context, id int64) error {
	if err := f.store.Reschedule(ctx, id, f.clock.Now()); err != nil {
		return fmt.Errorf("release url: %w", err)
	}
	return nil
}

func (f *Frontier) resolve(ctx context.Context, id int64, rawURL string, status store.SeenStatus) error {
	if err := f.store.Complete(ctx, id); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return f.recordSeen(ctx, rawURL, status)
}

func (f *Frontier) recordSeen(ctx context.Context, rawURL string, status store.SeenStatus) error {
	normalized, err := Normalize(rawURL)
	if err != nil {
		normalized = rawURL
	}
	hash := URLHash(normalized)
	_, _ = f.local.Add(ctx, hash)
	err = f.store.RecordSeen(ctx, store.SeenURL{
		URLHash:   hash,
		URL:       normalized,
		FirstSeen: f.clock.Now(),
		Status:    status,
	})
	if err != nil {
		return fmt.Errorf("record seen: %w", err)
	}
	return nil
}

// Stats summarizes the frontier by status.
type Stats struct {
	Pending    int64 `json:"pending_urls"`
	Processing int64 `json:"processing_urls"`
	Completed  int64 `json:"completed_urls"`
	Failed     int64 `json:"failed_urls"`
	Total      int64 `json:"total_urls"`
}

// Stats counts frontier rows and publishes the counts as gauges.
func (f *Frontier) Stats(ctx context.Context) (Stats, error) {
	counts, err := f.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	s := Stats{
		Pending:    counts[store.StatusPending],
		Processing: counts[store.StatusProcessing],
		Completed:  counts[store.StatusCompleted],
		Failed:     counts[store.StatusFailed],
	}
	for status, n := range counts {
		s.Total += n
		metrics.SetFrontierSize(string(status), n)
	}
	return s, nil
}

// Cleanup deletes resolved URLs last attempted more than olderThan ago.
func (f *Frontier) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := f.store.DeleteResolvedBefore(ctx, f.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("frontier cleanup: %w", err)
	}
	f.logger.Info("cleaned up frontier", zap.Int64("deleted", n))
	return n, nil
}

// RecoverProcessing returns URLs stranded in processing by a crash to pending.
func (f *Frontier) RecoverProcessing(ctx context.Context) (int64, error) {
	n, err := f.store.ResetProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover processing urls: %w", err)
	}
	if n > 0 {
		f.logger.Info("recovered stranded urls", zap.Int64("count", n))
	}
	return n, nil
}
