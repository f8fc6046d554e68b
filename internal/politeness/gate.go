// Package politeness decides when a domain may be requested again and whether
// robots.txt allows a URL at all.
package politeness

import (
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/corpus-crawler/internal/clock"
)

const (
	window              = time.Minute
	defaultPerMinute    = 10
	domainStateCapacity = 64
)

// Config tunes the Gate.
type Config struct {
	// MinDelay is the minimum spacing between two requests to one domain.
	MinDelay time.Duration
	// RateLimitFor returns the requests-per-minute ceiling for a domain.
	RateLimitFor func(domain string) int
}

type domainState struct {
	last     time.Time
	requests []time.Time
	perMin   int
	delay    time.Duration
}

// Gate tracks per-domain request history. Safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	clock   clock.Clock
	cfg     Config
	domains map[string]*domainState
}

// NewGate builds a Gate reading time from clk.
func NewGate(cfg Config, clk clock.Clock) *Gate {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	return &Gate{
		clock:   clk,
		cfg:     cfg,
		domains: make(map[string]*domainState, domainStateCapacity),
	}
}

func (g *Gate) state(domain string) *domainState {
	key := strings.ToLower(domain)
	st, ok := g.domains[key]
	if ok {
		return st
	}
	perMin := defaultPerMinute
	if g.cfg.RateLimitFor != nil {
		if n := g.cfg.RateLimitFor(key); n > 0 {
			perMin = n
		}
	}
	st = &domainState{perMin: perMin, delay: g.cfg.MinDelay}
	g.domains[key] = st
	return st
}

// prune drops window entries older than a minute before now.
func (st *domainState) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(st.requests) && !st.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.requests = append(st.requests[:0], st.requests[i:]...)
	}
}

func (st *domainState) nextAvailable(now time.Time) time.Time {
	st.prune(now)
	next := now
	if !st.last.IsZero() {
		if t := st.last.Add(st.delay); t.After(next) {
			next = t
		}
	}
	if len(st.requests) >= st.perMin {
		if t := st.requests[len(st.requests)-st.perMin].Add(window); t.After(next) {
			next = t
		}
	}
	return next
}

// CanRequest reports whether both the delay and the per-minute window admit
// a request to domain right now.
func (g *Gate) CanRequest(domain string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	return !g.state(domain).nextAvailable(now).After(now)
}

// RecordRequest timestamps a request to domain.
func (g *Gate) RecordRequest(domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	st := g.state(domain)
	st.prune(now)
	st.last = now
	st.requests = append(st.requests, now)
}

// NextAvailable returns the earliest instant a request to domain is admitted.
func (g *Gate) NextAvailable(domain string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state(domain).nextAvailable(g.clock.Now())
}

// SoonestAvailable is the minimum NextAvailable over domains. With no
// domains it returns now.
func (g *Gate) SoonestAvailable(domains []string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	var soonest time.Time
	for i, d := range domains {
		t := g.state(d).nextAvailable(now)
		if i == 0 || t.Before(soonest) {
			soonest = t
		}
	}
	if soonest.IsZero() {
		return now
	}
	return soonest
}

// RaiseMinDelay lifts the domain's minimum delay to d when d is larger.
func (g *Gate) RaiseMinDelay(domain string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(domain)
	if d > st.delay {
		st.delay = d
	}
}
