package frontier

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"

	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
)

// ErrInvalidURL marks input that cannot enter the frontier.
var ErrInvalidURL = errors.New("invalid url")

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagUppercaseEscapes |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagEncodeNecessaryEscapes |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveEmptyQuerySeparator |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveFragment |
	purell.FlagSortQuery |
	purell.FlagRemoveEmptyPortSeparator |
	purell.FlagRemoveUnnecessaryHostDots

// trackingParams are analytics query parameters that never change page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
}

// Normalize canonicalizes rawURL so equivalent spellings compare equal.
// Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}
	parsed.User = nil
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for key := range q {
			if _, drop := trackingParams[strings.ToLower(key)]; drop {
				q.Del(key)
			}
		}
		parsed.RawQuery = q.Encode()
	}
	return purell.NormalizeURL(parsed, normalizeFlags), nil
}

// Domain returns the lowercase host (with any non-default port) of a URL.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// URLHash is the SHA-256 hex digest of an already-normalized URL.
func URLHash(normalized string) string {
	return sha256.String(normalized)
}
