// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// Config controls the pgx pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store is the Postgres-backed repository set.
type Store struct {
	pool pool
}

var _ store.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InsertURL adds a frontier row unless the URL is already present.
func (s *Store) InsertURL(ctx context.Context, u *store.FrontierURL) (bool, error) {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal url metadata: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO url_frontier (url, domain, priority, depth, status, attempt_count, discovered_at, metadata)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
ON CONFLICT (url) DO NOTHING
RETURNING id`,
		u.URL, u.Domain, u.Priority, u.Depth, string(u.Status), u.DiscoveredAt.UTC(), meta,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert url: %w", err)
	}
	u.ID = id
	return true, nil
}

// PendingDomains lists domains with due pending rows.
func (s *Store) PendingDomains(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT domain FROM url_frontier
WHERE status = 'pending' AND (next_attempt IS NULL OR next_attempt <= $1)`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list pending domains: %w", err)
	}
	return collectStrings(rows, "list pending domains")
}

// NextPending picks the best due row among domains.
func (s *Store) NextPending(ctx context.Context, domains []string, now time.Time) (*store.FrontierURL, error) {
	if len(domains) == 0 {
		return nil, store.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
SELECT `+frontierColumns+` FROM url_frontier
WHERE status = 'pending' AND domain = ANY($1) AND (next_attempt IS NULL OR next_attempt <= $2)
ORDER BY priority DESC, discovered_at ASC, id ASC
LIMIT 1`, domains, now.UTC())
	u, err := scanFrontier(row)
	if err != nil {
		return nil, notFound(err, "next pending url")
	}
	return u, nil
}

// Claim moves a pending row to processing.
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE url_frontier
SET status = 'processing', attempt_count = attempt_count + 1, last_attempted = $2
WHERE id = $1 AND status = 'pending'`, id, now.UTC())
	return s.checkURLTransition(ctx, "claim url", id, store.StatusPending, tag, err)
}

// Complete moves a processing row to completed.
func (s *Store) Complete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE url_frontier SET status = 'completed' WHERE id = $1 AND status = 'processing'`, id)
	return s.checkURLTransition(ctx, "complete url", id, store.StatusProcessing, tag, err)
}

// Fail moves a processing row to failed.
func (s *Store) Fail(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE url_frontier SET status = 'failed' WHERE id = $1 AND status = 'processing'`, id)
	return s.checkURLTransition(ctx, "fail url", id, store.StatusProcessing, tag, err)
}

// Reschedule returns a processing row to pending, due at next.
func (s *Store) Reschedule(ctx context.Context, id int64, next time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE url_frontier SET status = 'pending', next_attempt = $2
WHERE id = $1 AND status = 'processing'`, id, next.UTC())
	return s.checkURLTransition(ctx, "reschedule url", id, store.StatusProcessing, tag, err)
}

func (s *Store) checkURLTransition(
	ctx context.Context,
	op string,
	id int64,
	from store.URLStatus,
	tag pgconn.CommandTag,
	err error,
) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM url_frontier WHERE id = $1`, id).Scan(&status); err != nil {
		return notFound(err, op)
	}
	return fmt.Errorf("%s: url %d is %s not %s: %w", op, id, status, from, store.ErrStatusConflict)
}

// ResetProcessing returns every processing row to pending.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE url_frontier SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("reset processing urls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus groups frontier rows by status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.URLStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM url_frontier GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count urls by status: %w", err)
	}
	counts, err := collectCounts(rows, "count urls by status")
	if err != nil {
		return nil, err
	}
	out := make(map[store.URLStatus]int64, len(counts))
	for k, v := range counts {
		out[store.URLStatus(k)] = v
	}
	return out, nil
}

// DeleteResolvedBefore drops completed and failed rows older than cutoff.
func (s *Store) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM url_frontier
WHERE status IN ('completed', 'failed') AND last_attempted < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete resolved urls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetURL loads one frontier row.
func (s *Store) GetURL(ctx context.Context, id int64) (*store.FrontierURL, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+frontierColumns+` FROM url_frontier WHERE id = $1`, id)
	u, err := scanFrontier(row)
	if err != nil {
		return nil, notFound(err, "get url")
	}
	return u, nil
}

// AllSeenHashes returns every recorded URL hash.
func (s *Store) AllSeenHashes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT url_hash FROM seen_urls`)
	if err != nil {
		return nil, fmt.Errorf("list seen hashes: %w", err)
	}
	return collectStrings(rows, "list seen hashes")
}

// RecordSeen inserts the seen row once.
func (s *Store) RecordSeen(ctx context.Context, seen store.SeenURL) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO seen_urls (url_hash, url, first_seen, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url_hash) DO NOTHING`,
		seen.URLHash, seen.URL, seen.FirstSeen.UTC(), string(seen.Status))
	if err != nil {
		return fmt.Errorf("record seen url: %w", err)
	}
	return nil
}

// InsertDocument stores a processed document.
func (s *Store) InsertDocument(ctx context.Context, doc *store.ProcessedDocument) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	status := doc.ExportStatus
	if status == "" {
		status = store.ExportPending
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO processed_documents (
	doc_id, url, url_hash, content_hash, title, content_length, topic, subdomain,
	language, processing_date, export_status, export_shard, quality_score, metadata
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (doc_id) DO NOTHING`,
		doc.DocID, doc.URL, doc.URLHash, doc.ContentHash, doc.Title, doc.ContentLength, doc.Topic,
		doc.Subdomain, doc.Language, doc.ProcessingDate.UTC(), string(status), doc.ExportShard,
		doc.QualityScore, meta,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert document %s: %w", doc.DocID, store.ErrAlreadyExists)
	}
	doc.ExportStatus = status
	return nil
}

// GetDocument loads one document.
func (s *Store) GetDocument(ctx context.Context, docID string) (*store.ProcessedDocument, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM processed_documents WHERE doc_id = $1`, docID)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "get document")
	}
	return doc, nil
}

// ListPendingExport returns unexported documents in processing order.
func (s *Store) ListPendingExport(ctx context.Context, limit int) ([]store.ProcessedDocument, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+documentColumns+` FROM processed_documents
WHERE export_status = 'pending'
ORDER BY processing_date ASC, doc_id ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	defer rows.Close()
	var docs []store.ProcessedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending documents: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	return docs, nil
}

// MarkExported flips a pending document to exported.
func (s *Store) MarkExported(ctx context.Context, docID, shard string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE processed_documents SET export_status = 'exported', export_shard = $2
WHERE doc_id = $1 AND export_status = 'pending'`, docID, shard)
	if err != nil {
		return fmt.Errorf("mark document exported: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = s.pool.QueryRow(ctx, `SELECT export_status FROM processed_documents WHERE doc_id = $1`, docID).Scan(&status)
	if err != nil {
		return notFound(err, "mark document exported")
	}
	return fmt.Errorf("document %s already %s: %w", docID, status, store.ErrStatusConflict)
}

// CountByExportStatus groups documents by export status.
func (s *Store) CountByExportStatus(ctx context.Context) (map[store.ExportStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT export_status, count(*) FROM processed_documents GROUP BY export_status`)
	if err != nil {
		return nil, fmt.Errorf("count documents by export status: %w", err)
	}
	counts, err := collectCounts(rows, "count documents by export status")
	if err != nil {
		return nil, err
	}
	out := make(map[store.ExportStatus]int64, len(counts))
	for k, v := range counts {
		out[store.ExportStatus(k)] = v
	}
	return out, nil
}

// InsertDedup persists a fingerprint row.
func (s *Store) InsertDedup(ctx context.Context, entry *store.DedupEntry) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO dedup_entries (doc_id, exact_hash, simhash, embedding_hash, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT DO NOTHING`,
		entry.DocID, entry.ExactHash, entry.Simhash, entry.EmbeddingHash, entry.Embedding, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert dedup entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert dedup entry %s: %w", entry.DocID, store.ErrAlreadyExists)
	}
	return nil
}

// ListDedup returns every fingerprint row, oldest first.
func (s *Store) ListDedup(ctx context.Context) ([]store.DedupEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT doc_id, exact_hash, simhash, embedding_hash, embedding, created_at
FROM dedup_entries ORDER BY created_at ASC, doc_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list dedup entries: %w", err)
	}
	defer rows.Close()
	var entries []store.DedupEntry
	for rows.Next() {
		var e store.DedupEntry
		if err := rows.Scan(&e.DocID, &e.ExactHash, &e.Simhash, &e.EmbeddingHash, &e.Embedding, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list dedup entries: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dedup entries: %w", err)
	}
	return entries, nil
}

// DeleteDedupBefore removes fingerprints created before cutoff.
func (s *Store) DeleteDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dedup_entries WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete dedup entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateShard records a new active shard.
func (s *Store) CreateShard(ctx context.Context, shard *store.ExportShard) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO export_shards (name, path, entry_count, byte_size, checksum, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		shard.Name, shard.Path, shard.EntryCount, shard.ByteSize, shard.Checksum, string(shard.Status),
		shard.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	return nil
}

// UpdateShardProgress stores the running entry count and size.
func (s *Store) UpdateShardProgress(ctx context.Context, name string, entries int, size int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE export_shards SET entry_count = $2, byte_size = $3 WHERE name = $1`, name, entries, size)
	if err != nil {
		return fmt.Errorf("update shard progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update shard %s: %w", name, store.ErrNotFound)
	}
	return nil
}

// FinalizeShard moves an active shard to finalized.
func (s *Store) FinalizeShard(
	ctx context.Context,
	name string,
	entries int,
	size int64,
	checksum string,
	at time.Time,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE export_shards
SET entry_count = $2, byte_size = $3, checksum = $4, status = 'finalized', finalized_at = $5
WHERE name = $1 AND status = 'active'`, name, entries, size, checksum, at.UTC())
	if err != nil {
		return fmt.Errorf("finalize shard: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetShard(ctx, name); err != nil {
		return err
	}
	return fmt.Errorf("shard %s not active: %w", name, store.ErrStatusConflict)
}

// GetShard loads one shard row.
func (s *Store) GetShard(ctx context.Context, name string) (*store.ExportShard, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+shardColumns+` FROM export_shards WHERE name = $1`, name)
	shard, err := scanShard(row)
	if err != nil {
		return nil, notFound(err, "get shard")
	}
	return shard, nil
}

// ListShards returns shards in creation order, optionally filtered by status.
func (s *Store) ListShards(ctx context.Context, status store.ShardStatus) ([]store.ExportShard, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+shardColumns+` FROM export_shards
WHERE ($1 = '' OR status = $1)
ORDER BY created_at ASC, name ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	defer rows.Close()
	var shards []store.ExportShard
	for rows.Next() {
		shard, err := scanShard(rows)
		if err != nil {
			return nil, fmt.Errorf("list shards: %w", err)
		}
		shards = append(shards, *shard)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	return shards, nil
}

// DeleteShard removes a shard row.
func (s *Store) DeleteShard(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM export_shards WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete shard: %w", err)
	}
	return nil
}

// PutState upserts a keyed state value.
func (s *Store) PutState(ctx context.Context, key string, value []byte, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO system_state (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, at.UTC())
	if err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}

// GetState loads a keyed state value.
func (s *Store) GetState(ctx context.Context, key string) (*store.StateEntry, error) {
	entry := store.StateEntry{Key: key}
	err := s.pool.QueryRow(ctx, `SELECT value, updated_at FROM system_state WHERE key = $1`, key).
		Scan(&entry.Value, &entry.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get state")
	}
	return &entry, nil
}

// AddCrawlStats increments the counters of the (date, domain) row.
func (s *Store) AddCrawlStats(ctx context.Context, d store.CrawlStat) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_stats (
	date, domain, pages_crawled, pages_successful, pages_failed, entries_extracted,
	entries_exported, duplicates_found, processing_time_seconds
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (date, domain) DO UPDATE SET
	pages_crawled = crawl_stats.pages_crawled + EXCLUDED.pages_crawled,
	pages_successful = crawl_stats.pages_successful + EXCLUDED.pages_successful,
	pages_failed = crawl_stats.pages_failed + EXCLUDED.pages_failed,
	entries_extracted = crawl_stats.entries_extracted + EXCLUDED.entries_extracted,
	entries_exported = crawl_stats.entries_exported + EXCLUDED.entries_exported,
	duplicates_found = crawl_stats.duplicates_found + EXCLUDED.duplicates_found,
	processing_time_seconds = crawl_stats.processing_time_seconds + EXCLUDED.processing_time_seconds`,
		d.Date, d.Domain, d.PagesCrawled, d.PagesSuccessful, d.PagesFailed, d.EntriesExtracted,
		d.EntriesExported, d.DuplicatesFound, d.ProcessingTimeSeconds)
	if err != nil {
		return fmt.Errorf("add crawl stats: %w", err)
	}
	return nil
}

// ListCrawlStats returns stats rows dated on or after since.
func (s *Store) ListCrawlStats(ctx context.Context, since string) ([]store.CrawlStat, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, date, domain, pages_crawled, pages_successful, pages_failed, entries_extracted,
	entries_exported, duplicates_found, processing_time_seconds
FROM crawl_stats WHERE date >= $1 ORDER BY date ASC, domain ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list crawl stats: %w", err)
	}
	defer rows.Close()
	var out []store.CrawlStat
	for rows.Next() {
		var c store.CrawlStat
		if err := rows.Scan(&c.ID, &c.Date, &c.Domain, &c.PagesCrawled, &c.PagesSuccessful, &c.PagesFailed,
			&c.EntriesExtracted, &c.EntriesExported, &c.DuplicatesFound, &c.ProcessingTimeSeconds); err != nil {
			return nil, fmt.Errorf("list crawl stats: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawl stats: %w", err)
	}
	return out, nil
}

func collectStrings(rows pgx.Rows, op string) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func collectCounts(rows pgx.Rows, op string) (map[string]int64, error) {
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
