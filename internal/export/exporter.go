package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// Store is the persistence the exporter needs.
type Store interface {
	store.DocumentStore
	store.ShardStore
}

// Config tunes the exporter.
type Config struct {
	MinLength       int
	DeliveryVersion string
	BatchSize       int
}

// Stats summarizes export progress.
type Stats struct {
	TotalShards     int   `json:"total_shards"`
	FinalizedShards int   `json:"finalized_shards"`
	ActiveShards    int   `json:"active_shards"`
	TotalEntries    int64 `json:"total_entries"`
	TotalBytes      int64 `json:"total_bytes"`
	PendingDocs     int64 `json:"pending_documents"`
	ExportedDocs    int64 `json:"exported_documents"`
}

// Exporter moves processed documents into shards exactly once.
type Exporter struct {
	store  Store
	shards *ShardManager
	logger *zap.Logger
	cfg    Config
}

// NewExporter wires an exporter over shards.
func NewExporter(st Store, shards *ShardManager, logger *zap.Logger, cfg Config) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.DeliveryVersion == "" {
		cfg.DeliveryVersion = "V1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: st, shards: shards, logger: logger, cfg: cfg}
}

// Shards exposes the underlying shard manager.
func (e *Exporter) Shards() *ShardManager { return e.shards }

// BuildEntry maps doc to its shard record using the exporter's settings.
func (e *Exporter) BuildEntry(doc *store.ProcessedDocument) Entry {
	return BuildEntry(doc, EntryOptions{MinLength: e.cfg.MinLength, DeliveryVersion: e.cfg.DeliveryVersion})
}

// ExportDocument writes doc unless it is already exported or too short, then
// flips its export status. It reports whether a line was written.
func (e *Exporter) ExportDocument(ctx context.Context, doc *store.ProcessedDocument) (bool, error) {
	current, err := e.store.GetDocument(ctx, doc.DocID)
	if err != nil {
		return false, fmt.Errorf("export %s: %w", doc.DocID, err)
	}
	if current.ExportStatus == store.ExportExported {
		return false, nil
	}
	entry := e.BuildEntry(current)
	if entry.TextLength() < e.cfg.MinLength {
		e.logger.Debug("skipping short entry",
			zap.String("doc_id", doc.DocID),
			zap.Int("length", entry.TextLength()))
		return false, nil
	}
	shard, err := e.shards.Write(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("export %s: %w", doc.DocID, err)
	}
	if err := e.store.MarkExported(ctx, doc.DocID, shard); err != nil {
		return false, fmt.Errorf("mark %s exported: %w", doc.DocID, err)
	}
	metrics.ObserveExport(1)
	return true, nil
}

// ExportPending sweeps pending documents in batches of batch (the configured
// size when batch <= 0) and returns how many were written. Documents skipped
// as too short stay pending and do not block the sweep.
func (e *Exporter) ExportPending(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = e.cfg.BatchSize
	}
	skipped := make(map[string]struct{})
	exported := 0
	for {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		limit := batch + len(skipped)
		docs, err := e.store.ListPendingExport(ctx, limit)
		if err != nil {
			return exported, fmt.Errorf("list pending exports: %w", err)
		}
		progressed := 0
		for i := range docs {
			if _, skip := skipped[docs[i].DocID]; skip {
				continue
			}
			progressed++
			ok, err := e.ExportDocument(ctx, &docs[i])
			if err != nil {
				return exported, err
			}
			if ok {
				exported++
			} else {
				skipped[docs[i].DocID] = struct{}{}
			}
		}
		if progressed == 0 || len(docs) < limit {
			break
		}
	}
	if exported > 0 || len(skipped) > 0 {
		e.logger.Info("exported pending documents",
			zap.Int("exported", exported),
			zap.Int("skipped", len(skipped)))
	}
	return exported, nil
}

// Stats reads shard and document counts from the store.
func (e *Exporter) Stats(ctx context.Context) (Stats, error) {
	shards, err := e.store.ListShards(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("export stats: %w", err)
	}
	var s Stats
	for _, sh := range shards {
		s.TotalShards++
		switch sh.Status {
		case store.ShardFinalized:
			s.FinalizedShards++
		case store.ShardActive:
			s.ActiveShards++
		}
		s.TotalEntries += int64(sh.EntryCount)
		s.TotalBytes += sh.ByteSize
	}
	counts, err := e.store.CountByExportStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("export stats: %w", err)
	}
	s.PendingDocs = counts[store.ExportPending]
	s.ExportedDocs = counts[store.ExportExported]
	return s, nil
}

// Close finalizes the active shard.
func (e *Exporter) Close(ctx context.Context) error {
	return e.shards.Close(ctx)
}
