package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// CheckpointKey is the system-state key the checkpoint is stored under.
const CheckpointKey = "pipeline_checkpoint"

// Stats counts what happened to the URLs processed in one run.
type Stats struct {
	PagesCrawled      int64         `json:"pages_crawled"`
	PagesSuccessful   int64         `json:"pages_successful"`
	PagesFailed       int64         `json:"pages_failed"`
	ContentExtracted  int64         `json:"content_extracted"`
	ContentCleaned    int64         `json:"content_cleaned"`
	ContentClassified int64         `json:"content_classified"`
	ContentAllowed    int64         `json:"content_allowed"`
	ContentRejected   int64         `json:"content_rejected"`
	DuplicatesFound   int64         `json:"duplicates_found"`
	EntriesExported   int64         `json:"entries_exported"`
	ProcessingTime    time.Duration `json:"-"`
}

// SuccessRate is successful over crawled pages.
func (s Stats) SuccessRate() float64 { return ratio(s.PagesSuccessful, s.PagesCrawled) }

// AcceptanceRate is allowed over classified documents.
func (s Stats) AcceptanceRate() float64 { return ratio(s.ContentAllowed, s.ContentClassified) }

// DuplicateRate is duplicates over allowed documents.
func (s Stats) DuplicateRate() float64 { return ratio(s.DuplicatesFound, s.ContentAllowed) }

// PagesPerSecond is the crawl throughput over elapsed.
func (s Stats) PagesPerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(s.PagesCrawled) / elapsed.Seconds()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// MarshalJSON adds the derived rates and the processing time in seconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	type counters Stats
	return json.Marshal(struct {
		counters
		ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
		SuccessRate           float64 `json:"success_rate"`
		AcceptanceRate        float64 `json:"acceptance_rate"`
		DuplicateRate         float64 `json:"duplicate_rate"`
	}{
		counters:              counters(s),
		ProcessingTimeSeconds: s.ProcessingTime.Seconds(),
		SuccessRate:           s.SuccessRate(),
		AcceptanceRate:        s.AcceptanceRate(),
		DuplicateRate:         s.DuplicateRate(),
	})
}

// statsBox guards Stats for readers outside the orchestrator goroutine.
type statsBox struct {
	mu sync.RWMutex
	s  Stats
}

func (b *statsBox) update(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.s)
	b.mu.Unlock()
}

func (b *statsBox) snapshot() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

// Checkpoint is the periodically persisted progress record.
type Checkpoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Stats     CheckpointStats `json:"stats"`
}

// CheckpointStats is the subset of Stats kept in a checkpoint.
type CheckpointStats struct {
	PagesCrawled    int64   `json:"pages_crawled"`
	PagesSuccessful int64   `json:"pages_successful"`
	PagesFailed     int64   `json:"pages_failed"`
	EntriesExported int64   `json:"entries_exported"`
	SuccessRate     float64 `json:"success_rate"`
	AcceptanceRate  float64 `json:"acceptance_rate"`
	DuplicateRate   float64 `json:"duplicate_rate"`
}

func newCheckpoint(s Stats, at time.Time) Checkpoint {
	return Checkpoint{
		Timestamp: at.UTC(),
		Stats: CheckpointStats{
			PagesCrawled:    s.PagesCrawled,
			PagesSuccessful: s.PagesSuccessful,
			PagesFailed:     s.PagesFailed,
			EntriesExported: s.EntriesExported,
			SuccessRate:     s.SuccessRate(),
			AcceptanceRate:  s.AcceptanceRate(),
			DuplicateRate:   s.DuplicateRate(),
		},
	}
}

// SaveCheckpoint persists cp under CheckpointKey.
func SaveCheckpoint(ctx context.Context, st store.StateStore, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := st.PutState(ctx, CheckpointKey, raw, cp.Timestamp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the last checkpoint, or nil when none was written.
func LoadCheckpoint(ctx context.Context, st store.StateStore) (*Checkpoint, error) {
	entry, err := st.GetState(ctx, CheckpointKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(entry.Value, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}
