package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/policy/ratelimit"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestPool(t *testing.T, cfg Config, sleeper *recordingSleeper) *Pool {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := NewPool(cfg, ratelimit.New(ratelimit.Config{}), zap.NewNop(),
		WithSleeper(sleeper.sleep),
		WithJitter(func() time.Duration { return 0 }),
	)
	t.Cleanup(p.Close)
	return p
}

func TestFetchBacksOffOnServerErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	p := newTestPool(t, Config{MaxRetries: 3, BackoffFactor: 2}, sleeper)

	res := p.Fetch(context.Background(), srv.URL+"/flaky")
	require.False(t, res.OK())
	require.Equal(t, Retryable, res.Outcome.Kind)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.Equal(t, 4, res.Attempts)
	require.Error(t, res.Err)
	require.Equal(t, int32(4), hits.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestFetchBackoffStaysUnderBoundWithJitter(t *testing.T) {
	t.Parallel()
	p := NewPool(Config{BackoffFactor: 2}, nil, nil)
	for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		d := p.backoff(attempt, Outcome{Kind: Retryable})
		require.GreaterOrEqual(t, d, base)
		require.Less(t, d, base+time.Second)
	}
}

func TestFetchHonoursRetryAfter(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	p := newTestPool(t, Config{MaxRetries: 2}, sleeper)

	res := p.Fetch(context.Background(), srv.URL)
	require.True(t, res.OK())
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, []time.Duration{7 * time.Second}, sleeper.delays)
	require.Contains(t, string(res.Body), "ok")
	require.Equal(t, "text/html; charset=utf-8", res.ContentType)
}

func TestFetchPermanentOutcomes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	p := newTestPool(t, Config{MaxRetries: 3}, sleeper)

	for _, path := range []string{"/missing", "/image", "/loop"} {
		res := p.Fetch(context.Background(), srv.URL+path)
		require.Equal(t, Permanent, res.Outcome.Kind, path)
		require.Equal(t, 1, res.Attempts, path)
		require.Error(t, res.Err, path)
	}
	require.Empty(t, sleeper.delays)
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, "<p>moved for %s</p>", r.UserAgent())
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := newTestPool(t, Config{UserAgent: "test-agent"}, &recordingSleeper{})
	res := p.Fetch(context.Background(), srv.URL+"/old")
	require.True(t, res.OK())
	require.Equal(t, srv.URL+"/new", res.FinalURL)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(res.Body), "moved for test-agent")

	stats := p.Stats()
	require.Equal(t, int64(1), stats.RequestsMade)
	require.Equal(t, int64(1), stats.Successful)
	require.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
	require.Positive(t, stats.BytesDownloaded)
}

func TestFetchTransportErrorIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	sleeper := &recordingSleeper{}
	p := newTestPool(t, Config{MaxRetries: 1}, sleeper)
	res := p.Fetch(context.Background(), addr)
	require.Equal(t, Retryable, res.Outcome.Kind)
	require.Zero(t, res.StatusCode)
	require.Equal(t, 2, res.Attempts)
	require.Len(t, sleeper.delays, 1)
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()
	cases := map[int]int{1: 1, 8: 1, 16: 2, 64: 8, 200: 8}
	for concurrency, want := range cases {
		p := NewPool(Config{Concurrency: concurrency}, nil, nil)
		require.Equal(t, want, p.Workers(), "concurrency %d", concurrency)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	require.Equal(t, DefaultRetryAfter, ParseRetryAfter("", now))
	require.Equal(t, DefaultRetryAfter, ParseRetryAfter("soon", now))
	require.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, ParseRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat), now))
}

func TestAllowedContentType(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "text/html", "TEXT/HTML; charset=UTF-8", "application/xhtml+xml", "text/plain"} {
		require.True(t, AllowedContentType(ok), ok)
	}
	for _, bad := range []string{"application/pdf", "image/jpeg", "application/json"} {
		require.False(t, AllowedContentType(bad), bad)
	}
}
