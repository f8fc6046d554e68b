// Package dedup detects exact, near and semantic duplicate documents.
package dedup

import (
	"fmt"
	"math"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	wordRe       = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// NormalizeText lowercases, collapses whitespace and strips punctuation so
// trivially reformatted copies compare equal.
func NormalizeText(text string) string {
	text = strings.ToLower(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = nonWordRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExactHash is the sha256 hex of the normalized text.
func ExactHash(text string) string {
	return sha256.String(NormalizeText(text))
}

// Tokenize splits text into lowercase words.
func Tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// Simhash fingerprints text from its word 1-, 2- and 3-grams.
func Simhash(text string) uint64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	var votes [64]int
	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			h := xxhash.Sum64String(strings.Join(tokens[i:i+n], " "))
			for b := range 64 {
				if h&(1<<uint(b)) != 0 {
					votes[b]++
				} else {
					votes[b]--
				}
			}
		}
	}
	var fp uint64
	for b, v := range votes {
		if v > 0 {
			fp |= 1 << uint(b)
		}
	}
	return fp
}

// SimhashSimilarity is 1 - hamming(a, b)/64.
func SimhashSimilarity(a, b uint64) float64 {
	s := 1 - float64(bits.OnesCount64(a^b))/64
	return math.Max(0, math.Min(1, s))
}

// FormatSimhash renders a fingerprint as 16 hex digits.
func FormatSimhash(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// ParseSimhash reverses FormatSimhash.
func ParseSimhash(s string) (uint64, error) {
	fp, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse simhash %q: %w", s, err)
	}
	return fp, nil
}
