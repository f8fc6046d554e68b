package store

import (
	"context"
	"time"
)

// FrontierStore persists the URL frontier. Status moves are compare-and-set:
// a row not in the expected state yields ErrStatusConflict.
type FrontierStore interface {
	// InsertURL adds a pending row; it reports false when the URL already exists.
	InsertURL(ctx context.Context, u *FrontierURL) (bool, error)
	// PendingDomains lists domains that have pending rows due at now.
	PendingDomains(ctx context.Context, now time.Time) ([]string, error)
	// NextPending returns the highest-priority due row among domains, oldest
	// discovery first. It returns ErrNotFound when none qualifies.
	NextPending(ctx context.Context, domains []string, now time.Time) (*FrontierURL, error)
	// Claim moves pending to processing, bumping attempt_count and last_attempted.
	Claim(ctx context.Context, id int64, now time.Time) error
	// Complete moves processing to completed.
	Complete(ctx context.Context, id int64) error
	// Fail moves processing to failed.
	Fail(ctx context.Context, id int64) error
	// Reschedule moves processing back to pending with a new due time.
	Reschedule(ctx context.Context, id int64, next time.Time) error
	// ResetProcessing returns every processing row to pending.
	ResetProcessing(ctx context.Context) (int64, error)
	// CountByStatus groups frontier rows by status.
	CountByStatus(ctx context.Context) (map[URLStatus]int64, error)
	// DeleteResolvedBefore drops completed and failed rows last attempted before cutoff.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// GetURL loads one row by id.
	GetURL(ctx context.Context, id int64) (*FrontierURL, error)
}

// SeenStore persists the hash index of resolved URLs.
type SeenStore interface {
	AllSeenHashes(ctx context.Context) ([]string, error)
	// RecordSeen inserts the row unless the hash is already present.
	RecordSeen(ctx context.Context, seen SeenURL) error
}

// DocumentStore persists processed documents.
type DocumentStore interface {
	// InsertDocument returns ErrAlreadyExists on a doc_id collision.
	InsertDocument(ctx context.Context, doc *ProcessedDocument) error
	GetDocument(ctx context.Context, docID string) (*ProcessedDocument, error)
	// ListPendingExport returns up to limit unexported documents, oldest first.
	ListPendingExport(ctx context.Context, limit int) ([]ProcessedDocument, error)
	// MarkExported flips pending to exported and records the shard.
	MarkExported(ctx context.Context, docID, shard string) error
	CountByExportStatus(ctx context.Context) (map[ExportStatus]int64, error)
}

// DedupStore persists duplicate-detector fingerprints.
type DedupStore interface {
	InsertDedup(ctx context.Context, entry *DedupEntry) error
	// ListDedup returns every entry ordered by creation time.
	ListDedup(ctx context.Context) ([]DedupEntry, error)
	DeleteDedupBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ShardStore persists export shard bookkeeping.
type ShardStore interface {
	CreateShard(ctx context.Context, shard *ExportShard) error
	UpdateShardProgress(ctx context.Context, name string, entries int, size int64) error
	// FinalizeShard moves an active shard to finalized.
	FinalizeShard(ctx context.Context, name string, entries int, size int64, checksum string, at time.Time) error
	GetShard(ctx context.Context, name string) (*ExportShard, error)
	// ListShards filters by status; the empty status lists all shards.
	ListShards(ctx context.Context, status ShardStatus) ([]ExportShard, error)
	DeleteShard(ctx context.Context, name string) error
}

// StateStore persists keyed JSON state such as checkpoints.
type StateStore interface {
	PutState(ctx context.Context, key string, value []byte, at time.Time) error
	GetState(ctx context.Context, key string) (*StateEntry, error)
}

// StatsStore persists per-day crawl counters.
type StatsStore interface {
	// AddCrawlStats increments the (date, domain) row by delta.
	AddCrawlStats(ctx context.Context, delta CrawlStat) error
	// ListCrawlStats returns rows dated on or after since (YYYY-MM-DD).
	ListCrawlStats(ctx context.Context, since string) ([]CrawlStat, error)
}

// Store bundles every repository behind one connection.
type Store interface {
	FrontierStore
	SeenStore
	DocumentStore
	DedupStore
	ShardStore
	StateStore
	StatsStore

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
