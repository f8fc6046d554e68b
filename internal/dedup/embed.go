package dedup

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Embedder turns text into a fixed-size, L2-normalized vector. Any model can
// sit behind it; HashingEmbedder is the built-in default.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// HashingEmbedder hashes word unigrams and bigrams into signed buckets.
// It is deterministic and needs no model files.
type HashingEmbedder struct {
	dim      int
	maxWords int
}

// NewHashingEmbedder returns an embedder of width dim that reads at most
// maxWords words of each text.
func NewHashingEmbedder(dim, maxWords int) *HashingEmbedder {
	if dim <= 0 {
		dim = 384
	}
	if maxWords <= 0 {
		maxWords = 512
	}
	return &HashingEmbedder{dim: dim, maxWords: maxWords}
}

// Dim implements Embedder.
func (h *HashingEmbedder) Dim() int { return h.dim }

// Embed implements Embedder. Text without words maps to the zero vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := Tokenize(text)
	if len(tokens) > h.maxWords {
		tokens = tokens[:h.maxWords]
	}
	for i, tok := range tokens {
		h.add(vec, tok)
		if i > 0 {
			h.add(vec, strings.Join(tokens[i-1:i+1], " "))
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashingEmbedder) add(vec []float32, feature string) {
	sum := xxhash.Sum64String(feature)
	bucket := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}

func normalize(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	if sq == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range vec {
		vec[i] *= inv
	}
}
