package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock"
	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// Tier names the check that flagged a duplicate.
type Tier string

// Duplicate tiers in evaluation order.
const (
	TierExact     Tier = "exact"
	TierSimhash   Tier = "simhash"
	TierEmbedding Tier = "embedding"
)

// Config tunes the detector.
type Config struct {
	// SimilarityThreshold is the tolerated distance; matches need a
	// similarity of at least 1 - SimilarityThreshold.
	SimilarityThreshold float64
	// SimhashWindow is how many recent fingerprints near-duplicate checks scan.
	SimhashWindow    int
	ExactEnabled     bool
	SimhashEnabled   bool
	EmbeddingEnabled bool
}

// Result reports the first tier that fired, if any.
type Result struct {
	IsDuplicate  bool    `json:"is_duplicate"`
	Tier         Tier    `json:"tier,omitempty"`
	Similarity   float64 `json:"similarity"`
	MatchedDocID string  `json:"matched_doc_id,omitempty"`
}

// Stats counts checks and hits per tier.
type Stats struct {
	TotalChecks         int64   `json:"total_checks"`
	ExactDuplicates     int64   `json:"exact_duplicates"`
	SimhashDuplicates   int64   `json:"simhash_duplicates"`
	EmbeddingDuplicates int64   `json:"embedding_duplicates"`
	UniqueDocuments     int64   `json:"unique_documents"`
	IndexedVectors      int     `json:"indexed_vectors"`
	DuplicateRate       float64 `json:"duplicate_rate"`
}

type recent struct {
	docID string
	fp    uint64
}

// Detector runs the exact, simhash and embedding tiers in order.
type Detector struct {
	store    store.DedupStore
	embedder Embedder
	clock    clock.Clock
	logger   *zap.Logger
	cfg      Config

	mu     sync.Mutex
	exact  map[string]string
	window []recent
	index  *FlatIndex
	stats  Stats
}

// NewDetector builds a detector with empty indices; call Load to warm them.
func NewDetector(st store.DedupStore, embedder Embedder, clk clock.Clock, logger *zap.Logger, cfg Config) *Detector {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold >= 1 {
		cfg.SimilarityThreshold = 0.05
	}
	if cfg.SimhashWindow <= 0 {
		cfg.SimhashWindow = 100
	}
	if embedder == nil {
		embedder = NewHashingEmbedder(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:    st,
		embedder: embedder,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
		exact:    make(map[string]string),
		index:    NewFlatIndex(embedder.Dim()),
	}
}

func (d *Detector) threshold() float64 {
	return 1 - d.cfg.SimilarityThreshold
}

// Check reports whether content duplicates an indexed document. It does not
// index content; call Add for accepted documents.
func (d *Detector) Check(ctx context.Context, _ string, content string) (Result, error) {
	var vec []float32
	if d.cfg.EmbeddingEnabled {
		v, err := d.embedder.Embed(ctx, content)
		if err != nil {
			return Result{}, fmt.Errorf("embed content: %w", err)
		}
		vec = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.TotalChecks++

	res := d.check(content, vec)
	switch res.Tier {
	case TierExact:
		d.stats.ExactDuplicates++
	case TierSimhash:
		d.stats.SimhashDuplicates++
	case TierEmbedding:
		d.stats.EmbeddingDuplicates++
	}
	if res.IsDuplicate {
		metrics.ObserveDuplicate(string(res.Tier))
	}
	return res, nil
}

func (d *Detector) check(content string, vec []float32) Result {
	if d.cfg.ExactEnabled {
		if id, ok := d.exact[ExactHash(content)]; ok {
			return Result{IsDuplicate: true, Tier: TierExact, Similarity: 1, MatchedDocID: id}
		}
	}
	if d.cfg.SimhashEnabled && len(d.window) > 0 {
		fp := Simhash(content)
		best := recent{}
		bestSim := -1.0
		for _, r := range d.window {
			if s := SimhashSimilarity(fp, r.fp); s > bestSim {
				best, bestSim = r, s
			}
		}
		if bestSim >= d.threshold() {
			return Result{IsDuplicate: true, Tier: TierSimhash, Similarity: bestSim, MatchedDocID: best.docID}
		}
	}
	if d.cfg.EmbeddingEnabled && vec != nil {
		if id, score, ok := d.index.Search(vec); ok && score >= d.threshold() {
			return Result{IsDuplicate: true, Tier: TierEmbedding, Similarity: score, MatchedDocID: id}
		}
	}
	return Result{}
}

// Add fingerprints an accepted document, persists the fingerprints and
// indexes them in memory.
func (d *Detector) Add(ctx context.Context, docID, content string) error {
	vec, err := d.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	fp := Simhash(content)
	encoded := store.EncodeVector(vec)
	entry := &store.DedupEntry{
		DocID:         docID,
		ExactHash:     ExactHash(content),
		Simhash:       FormatSimhash(fp),
		EmbeddingHash: sha256.Hex(encoded),
		Embedding:     encoded,
		CreatedAt:     d.clock.Now(),
	}
	if err := d.store.InsertDedup(ctx, entry); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			d.logger.Debug("dedup entry already stored", zap.String("doc_id", docID))
			return nil
		}
		return fmt.Errorf("store dedup entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.indexEntry(docID, entry.ExactHash, fp, vec)
	d.stats.UniqueDocuments++
	return nil
}

func (d *Detector) indexEntry(docID, exactHash string, fp uint64, vec []float32) {
	if _, ok := d.exact[exactHash]; !ok {
		d.exact[exactHash] = docID
	}
	d.window = append(d.window, recent{docID: docID, fp: fp})
	if over := len(d.window) - d.cfg.SimhashWindow; over > 0 {
		d.window = append(d.window[:0], d.window[over:]...)
	}
	if vec != nil {
		if err := d.index.Add(docID, vec); err != nil {
			d.logger.Warn("skipping embedding", zap.String("doc_id", docID), zap.Error(err))
		}
	}
}

// Load rebuilds the in-memory indices from the store.
func (d *Detector) Load(ctx context.Context) (int, error) {
	entries, err := d.store.ListDedup(ctx)
	if err != nil {
		return 0, fmt.Errorf("load dedup entries: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exact = make(map[string]string, len(entries))
	d.window = d.window[:0]
	d.index.Reset()
	for _, e := range entries {
		fp, err := ParseSimhash(e.Simhash)
		if err != nil {
			d.logger.Warn("bad stored simhash", zap.String("doc_id", e.DocID), zap.Error(err))
		}
		var vec []float32
		if len(e.Embedding) > 0 {
			vec, err = store.DecodeVector(e.Embedding)
			if err != nil {
				d.logger.Warn("bad stored embedding", zap.String("doc_id", e.DocID), zap.Error(err))
				vec = nil
			}
		}
		d.indexEntry(e.DocID, e.ExactHash, fp, vec)
	}
	d.logger.Info("loaded dedup index",
		zap.Int("entries", len(entries)),
		zap.Int("vectors", d.index.Len()))
	return len(entries), nil
}

// Cleanup deletes fingerprints older than olderThan and rebuilds the indices,
// since the vector arena cannot drop single entries.
func (d *Detector) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := d.store.DeleteDedupBefore(ctx, d.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("dedup cleanup: %w", err)
	}
	if _, err := d.Load(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// Stats returns a snapshot of the counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.IndexedVectors = d.index.Len()
	if s.TotalChecks > 0 {
		dups := s.ExactDuplicates + s.SimhashDuplicates + s.EmbeddingDuplicates
		s.DuplicateRate = float64(dups) / float64(s.TotalChecks)
	}
	return s
}
