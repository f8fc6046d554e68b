package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitAndObservers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("tips.example", "accepted"))
	ObservePage("https://tips.example/a", "accepted")
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("tips.example", "accepted")); got != before+1 {
		t.Errorf("expected crawler_pages_total to grow by 1, got %f -> %f", before, got)
	}

	ObserveFetch("tips.example", 503, 0, 0)
	if got := testutil.ToFloat64(crawlerFetchTotal.WithLabelValues("5xx")); got < 1 {
		t.Errorf("expected a 5xx fetch to be counted, got %f", got)
	}
	ObserveFetch("tips.example", 0, 0, 0)
	if got := testutil.ToFloat64(crawlerFetchTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected a transport error to be counted, got %f", got)
	}

	SetFrontierSize("pending", 42)
	if got := testutil.ToFloat64(crawlerFrontierURLs.WithLabelValues("pending")); got != 42 {
		t.Errorf("expected frontier gauge 42, got %f", got)
	}

	ObserveDuplicate("simhash")
	if got := testutil.ToFloat64(crawlerDuplicatesTotal.WithLabelValues("simhash")); got < 1 {
		t.Errorf("expected simhash duplicate to be counted, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
