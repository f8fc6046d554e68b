// Package fetch downloads pages through a fixed pool of colly workers and
// classifies every attempt into a tagged Outcome that drives retries.
package fetch

import (
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind tags an attempt outcome.
type Kind int

const (
	// Success carries a usable body.
	Success Kind = iota
	// Retryable failures may succeed on a later attempt.
	Retryable
	// Permanent failures never will.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// DefaultRetryAfter applies to a 429 without a usable Retry-After header.
const DefaultRetryAfter = 60 * time.Second

var errTooManyRedirects = errors.New("too many redirects")

// Outcome classifies one attempt.
type Outcome struct {
	Kind       Kind
	Reason     string
	RetryAfter time.Duration
	StatusCode int
}

var allowedContentTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
	"application/xml":       {},
	"text/xml":              {},
	"text/plain":            {},
}

// AllowedContentType reports whether a Content-Type header names a textual
// document worth extracting. A missing header is accepted.
func AllowedContentType(header string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	media, _, err := mime.ParseMediaType(header)
	if err != nil {
		media = strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
	}
	_, ok := allowedContentTypes[media]
	return ok
}

// classifyResponse maps a completed HTTP exchange to an Outcome.
func classifyResponse(status int, header http.Header, now time.Time) Outcome {
	switch {
	case status >= 200 && status < 300:
		ct := header.Get("Content-Type")
		if !AllowedContentType(ct) {
			return Outcome{Kind: Permanent, Reason: "content type " + ct, StatusCode: status}
		}
		return Outcome{Kind: Success, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return Outcome{
			Kind:       Retryable,
			Reason:     "rate limited",
			RetryAfter: ParseRetryAfter(header.Get("Retry-After"), now),
			StatusCode: status,
		}
	case status >= 500:
		return Outcome{Kind: Retryable, Reason: fmt.Sprintf("server error %d", status), StatusCode: status}
	default:
		return Outcome{Kind: Permanent, Reason: fmt.Sprintf("http %d", status), StatusCode: status}
	}
}

// classifyError maps a transport failure to an Outcome.
func classifyError(err error) Outcome {
	if errors.Is(err, errTooManyRedirects) {
		return Outcome{Kind: Permanent, Reason: errTooManyRedirects.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Outcome{Kind: Retryable, Reason: "timeout"}
	}
	return Outcome{Kind: Retryable, Reason: err.Error()}
}

// ParseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date
// form. Anything unusable yields DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}
