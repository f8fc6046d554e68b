package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/frontier"
	"github.com/JakeFAU/corpus-crawler/internal/pipeline"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

type fakeReporter struct {
	state  pipeline.State
	report pipeline.Report
	err    error
}

func (f fakeReporter) State() pipeline.State { return f.state }

func (f fakeReporter) Report(context.Context) (pipeline.Report, error) {
	return f.report, f.err
}

type fakeStore struct {
	pingErr error
	since   string
	rows    []store.CrawlStat
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListCrawlStats(_ context.Context, since string) ([]store.CrawlStat, error) {
	f.since = since
	return f.rows, nil
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := NewServer(fakeReporter{}, &fakeStore{}, zap.NewNop())
	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		state pipeline.State
		ping  error
		code  int
	}{
		{"running", pipeline.StateRunning, nil, http.StatusOK},
		{"starting", pipeline.StateStarting, nil, http.StatusServiceUnavailable},
		{"store down", pipeline.StateRunning, errors.New("conn refused"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewServer(fakeReporter{state: tc.state}, &fakeStore{pingErr: tc.ping}, zap.NewNop())
			require.Equal(t, tc.code, serve(t, s, "/readyz").Code)
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	report := pipeline.Report{
		State:    "running",
		Run:      pipeline.Stats{PagesCrawled: 4, PagesSuccessful: 3},
		Frontier: frontier.Stats{Pending: 7, Completed: 3, Total: 10},
	}
	s := NewServer(fakeReporter{state: pipeline.StateRunning, report: report}, &fakeStore{}, zap.NewNop())
	rec := serve(t, s, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State    string         `json:"state"`
		Run      map[string]any `json:"run"`
		Frontier frontier.Stats `json:"frontier"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "running", body.State)
	require.InDelta(t, 0.75, body.Run["success_rate"], 1e-9)
	require.Equal(t, int64(7), body.Frontier.Pending)
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	s := NewServer(fakeReporter{err: errors.New("db gone")}, &fakeStore{}, zap.NewNop())
	rec := serve(t, s, "/v1/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to build status")
}

func TestCrawlStats(t *testing.T) {
	t.Parallel()
	st := &fakeStore{rows: []store.CrawlStat{{Date: "2024-03-01", Domain: "x.test", PagesCrawled: 5}}}
	s := NewServer(fakeReporter{}, st, zap.NewNop())

	rec := serve(t, s, "/v1/crawl-stats?since=2024-03-01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2024-03-01", st.since)
	require.Contains(t, rec.Body.String(), `"pages_crawled":5`)

	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/crawl-stats?since=yesterday").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/crawl-stats?days=-1").Code)
}

func TestParseSince(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"/":                         "2024-03-04",
		"/?days=1":                  "2024-03-10",
		"/?days=1000":               "2023-03-12",
		"/?since=2024-01-02":        "2024-01-02",
		"/?days=3&since=2024-02-01": "2024-02-01",
	}
	for path, want := range cases {
		got, err := parseSince(httptest.NewRequest(http.MethodGet, path, nil), now)
		require.NoError(t, err, path)
		require.Equal(t, want, got, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := NewServer(fakeReporter{}, &fakeStore{}, zap.NewNop())
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}
