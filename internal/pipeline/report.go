package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/corpus-crawler/internal/dedup"
	"github.com/JakeFAU/corpus-crawler/internal/export"
	"github.com/JakeFAU/corpus-crawler/internal/fetch"
	"github.com/JakeFAU/corpus-crawler/internal/frontier"
)

// Report is the operator view of the crawler: persistent queue and export
// state plus the counters of the current run.
type Report struct {
	State          string           `json:"state"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	Run            Stats            `json:"run"`
	Frontier       frontier.Stats   `json:"frontier"`
	Export         export.Stats     `json:"export"`
	Dedup          dedup.Stats      `json:"dedup"`
	Fetch          *fetch.Stats     `json:"fetch,omitempty"`
	Rejections     map[string]int64 `json:"rejections,omitempty"`
	LastCheckpoint *Checkpoint      `json:"last_checkpoint,omitempty"`
}

// Report gathers the current status. It is safe to call while Run is active.
func (p *Pipeline) Report(ctx context.Context) (Report, error) {
	fs, err := p.frontier.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("frontier stats: %w", err)
	}
	es, err := p.exporter.Stats(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("export stats: %w", err)
	}
	cp, err := LoadCheckpoint(ctx, p.store)
	if err != nil {
		return Report{}, err
	}
	r := Report{
		State:          p.State().String(),
		ElapsedSeconds: p.Elapsed().Seconds(),
		Run:            p.stats.snapshot(),
		Frontier:       fs,
		Export:         es,
		Dedup:          p.dedup.Stats(),
		Rejections:     p.classifier.Rejections(),
		LastCheckpoint: cp,
	}
	if s, ok := p.fetcher.(interface{ Stats() fetch.Stats }); ok {
		st := s.Stats()
		r.Fetch = &st
	}
	return r, nil
}
