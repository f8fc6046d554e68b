package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
)

// response is the raw result of one attempt.
type response struct {
	finalURL   string
	statusCode int
	header     http.Header
	body       []byte
	elapsed    time.Duration
}

// worker owns one http.Transport, and with it one connection pool. Every
// attempt gets a fresh collector bound to that transport so per-attempt hooks
// never leak between concurrent fetches.
type worker struct {
	id        int
	transport *http.Transport
	cfg       Config

	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	bytes     atomic.Int64
	elapsedNs atomic.Int64
}

func newWorker(id int, cfg Config) *worker {
	return &worker{id: id, transport: newHTTPTransport(cfg.Concurrency), cfg: cfg}
}

func (w *worker) collector(ctx context.Context, finalURL *string) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(w.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(int(w.cfg.MaxBodyBytes)),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(w.transport)
	c.SetRequestTimeout(w.cfg.Timeout)
	// Non-2xx responses go through OnResponse so they can be classified.
	c.ParseHTTPErrorResponse = true
	maxRedirects := w.cfg.MaxRedirects
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return errTooManyRedirects
		}
		*finalURL = req.URL.String()
		return nil
	})
	return c
}

// do performs one GET. A non-nil error means no response was received.
func (w *worker) do(ctx context.Context, rawURL string) (response, error) {
	var (
		resp     response
		fetchErr error
		finalURL = rawURL
	)
	start := time.Now()
	c := w.collector(ctx, &finalURL)
	c.OnResponse(func(r *colly.Response) {
		resp = response{
			statusCode: r.StatusCode,
			body:       append([]byte(nil), r.Body...),
			elapsed:    time.Since(start),
		}
		if r.Headers != nil {
			resp.header = r.Headers.Clone()
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 && fetchErr == nil && resp.statusCode == 0 {
			resp.statusCode = r.StatusCode
			if r.Headers != nil {
				resp.header = r.Headers.Clone()
			}
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(rawURL)
	}()

	w.requests.Add(1)
	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		switch {
		case resp.statusCode > 0:
			err = nil
		case visitErr != nil:
			err = fmt.Errorf("visit %s: %w", rawURL, visitErr)
		case fetchErr != nil:
			err = fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		default:
			err = fmt.Errorf("fetch %s: no response", rawURL)
		}
	}
	if err != nil {
		w.elapsedNs.Add(int64(time.Since(start)))
		return response{}, err
	}
	if resp.header == nil {
		resp.header = http.Header{}
	}
	resp.finalURL = finalURL
	w.elapsedNs.Add(int64(resp.elapsed))
	w.bytes.Add(int64(len(resp.body)))
	return resp, nil
}

func (w *worker) record(success bool) {
	if success {
		w.successes.Add(1)
		return
	}
	w.failures.Add(1)
}

func newHTTPTransport(concurrency int) *http.Transport {
	perHost := concurrency
	if perHost < 10 {
		perHost = 10
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
