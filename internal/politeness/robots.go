package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/corpus-crawler/internal/clock"
)

const (
	robotsTimeout  = 10 * time.Second
	robotsMaxBytes = 512 << 10
	robotsTTL      = 24 * time.Hour
)

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Enabled   bool
	UserAgent string
	// TTL bounds how long a fetched (or failed) robots.txt is trusted.
	TTL time.Duration
	// Client overrides the HTTP client; tests point it at httptest servers.
	Client *http.Client
}

type robotsEntry struct {
	// data is nil when every path is allowed.
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Robots caches robots.txt per host and answers allow checks. Lookups fail
// open: a robots.txt that cannot be fetched allows everything.
type Robots struct {
	cfg    RobotsConfig
	client *http.Client
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	cache  map[string]robotsEntry
	flight singleflight.Group
}

// NewRobots builds a Robots checker.
func NewRobots(cfg RobotsConfig, clk clock.Clock, logger *zap.Logger) *Robots {
	if cfg.TTL <= 0 {
		cfg.TTL = robotsTTL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: robotsTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Robots{
		cfg:    cfg,
		client: client,
		clock:  clk,
		logger: logger,
		cache:  make(map[string]robotsEntry),
	}
}

// Allowed reports whether rawURL may be fetched.
func (r *Robots) Allowed(ctx context.Context, rawURL string) bool {
	if !r.cfg.Enabled {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	entry := r.load(ctx, parsed)
	if entry.data == nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return entry.data.TestAgent(path, r.cfg.UserAgent)
}

// CrawlDelay returns the cached Crawl-delay for host, or zero.
func (r *Robots) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[strings.ToLower(host)]
	if !ok || entry.data == nil {
		return 0
	}
	return entry.data.FindGroup(r.cfg.UserAgent).CrawlDelay
}

func (r *Robots) load(ctx context.Context, parsed *url.URL) robotsEntry {
	key := strings.ToLower(parsed.Host)
	now := r.clock.Now()

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < r.cfg.TTL {
		return entry
	}

	v, _, _ := r.flight.Do(key, func() (any, error) {
		data, err := r.fetch(ctx, parsed)
		if err != nil {
			r.logger.Warn("robots fetch failed; allowing access", zap.String("host", key), zap.Error(err))
		}
		fresh := robotsEntry{data: data, fetchedAt: now}
		r.mu.Lock()
		r.cache[key] = fresh
		r.mu.Unlock()
		return fresh, nil
	})
	return v.(robotsEntry) //nolint:forcetypeassert // only robotsEntry is stored
}

func (r *Robots) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := url.URL{Scheme: scheme, Host: parsed.Host, Path: "/robots.txt"}

	ctx, cancel := context.WithTimeout(ctx, robotsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	// Only a 2xx robots.txt restricts the host; anything else allows all.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
