// Package sqlite implements store.Store on an embedded SQLite database
// through gorm and the pure-Go glebarez driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// Store is the SQLite-backed repository set.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open creates the parent directory when needed and opens the database file.
// SQLite allows a single writer, so the pool is pinned to one connection.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Migrate creates every table and index.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&store.FrontierURL{},
		&store.SeenURL{},
		&store.ProcessedDocument{},
		&store.DedupEntry{},
		&store.ExportShard{},
		&store.StateEntry{},
		&store.CrawlStat{},
	)
	if err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// Ping verifies the database handle.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	return sqlDB.Close()
}

// InsertURL adds a frontier row unless the URL is already present.
func (s *Store) InsertURL(ctx context.Context, u *store.FrontierURL) (bool, error) {
	u.DiscoveredAt = u.DiscoveredAt.UTC()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(u)
	if res.Error != nil {
		return false, fmt.Errorf("insert url: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// PendingDomains lists domains with pending rows that are due.
func (s *Store) PendingDomains(ctx context.Context, now time.Time) ([]string, error) {
	var domains []string
	err := s.db.WithContext(ctx).
		Model(&store.FrontierURL{}).
		Where("status = ? AND (next_attempt IS NULL OR next_attempt <= ?)", store.StatusPending, now.UTC()).
		Distinct().
		Pluck("domain", &domains).Error
	if err != nil {
		return nil, fmt.Errorf("list pending domains: %w", err)
	}
	return domains, nil
}

// NextPending picks the best due row among domains.
func (s *Store) NextPending(ctx context.Context, domains []string, now time.Time) (*store.FrontierURL, error) {
	if len(domains) == 0 {
		return nil, store.ErrNotFound
	}
	var row store.FrontierURL
	err := s.db.WithContext(ctx).
		Where("status = ? AND domain IN ? AND (next_attempt IS NULL OR next_attempt <= ?)",
			store.StatusPending, domains, now.UTC()).
		Order("priority DESC").
		Order("discovered_at ASC").
		Order("id ASC").
		Take(&row).Error
	if err != nil {
		return nil, notFound(err, "next pending url")
	}
	return &row, nil
}

// Claim moves a pending row to processing.
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) error {
	return s.transitionURL(ctx, id, store.StatusPending, map[string]any{
		"status":         store.StatusProcessing,
		"attempt_count":  gorm.Expr("attempt_count + 1"),
		"last_attempted": now.UTC(),
	})
}

// Complete moves a processing row to completed.
func (s *Store) Complete(ctx context.Context, id int64) error {
	return s.transitionURL(ctx, id, store.StatusProcessing, map[string]any{"status": store.StatusCompleted})
}

// Fail moves a processing row to failed.
func (s *Store) Fail(ctx context.Context, id int64) error {
	return s.transitionURL(ctx, id, store.StatusProcessing, map[string]any{"status": store.StatusFailed})
}

// Reschedule returns a processing row to pending, due at next.
func (s *Store) Reschedule(ctx context.Context, id int64, next time.Time) error {
	return s.transitionURL(ctx, id, store.StatusProcessing, map[string]any{
		"status":       store.StatusPending,
		"next_attempt": next.UTC(),
	})
}

func (s *Store) transitionURL(ctx context.Context, id int64, from store.URLStatus, updates map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&store.FrontierURL{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update url %d: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetURL(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("url %d not %s: %w", id, from, store.ErrStatusConflict)
}

// ResetProcessing returns every processing row to pending.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&store.FrontierURL{}).
		Where("status = ?", store.StatusProcessing).
		Update("status", store.StatusPending)
	if res.Error != nil {
		return 0, fmt.Errorf("reset processing urls: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByStatus groups frontier rows by status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.URLStatus]int64, error) {
	var rows []struct {
		Status store.URLStatus
		N      int64
	}
	err := s.db.WithContext(ctx).
		Model(&store.FrontierURL{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count urls by status: %w", err)
	}
	out := make(map[store.URLStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// DeleteResolvedBefore drops completed and failed rows older than cutoff.
func (s *Store) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND last_attempted < ?",
			[]store.URLStatus{store.StatusCompleted, store.StatusFailed}, cutoff.UTC()).
		Delete(&store.FrontierURL{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete resolved urls: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetURL loads one frontier row.
func (s *Store) GetURL(ctx context.Context, id int64) (*store.FrontierURL, error) {
	var row store.FrontierURL
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "get url")
	}
	return &row, nil
}

// AllSeenHashes returns every recorded URL hash.
func (s *Store) AllSeenHashes(ctx context.Context) ([]string, error) {
	var hashes []string
	if err := s.db.WithContext(ctx).Model(&store.SeenURL{}).Pluck("url_hash", &hashes).Error; err != nil {
		return nil, fmt.Errorf("list seen hashes: %w", err)
	}
	return hashes, nil
}

// RecordSeen inserts the seen row once; later calls for the same hash are ignored.
func (s *Store) RecordSeen(ctx context.Context, seen store.SeenURL) error {
	seen.FirstSeen = seen.FirstSeen.UTC()
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seen).Error; err != nil {
		return fmt.Errorf("record seen url: %w", err)
	}
	return nil
}

// InsertDocument stores a processed document.
func (s *Store) InsertDocument(ctx context.Context, doc *store.ProcessedDocument) error {
	doc.ProcessingDate = doc.ProcessingDate.UTC()
	if doc.ExportStatus == "" {
		doc.ExportStatus = store.ExportPending
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(doc)
	if res.Error != nil {
		return fmt.Errorf("insert document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("insert document %s: %w", doc.DocID, store.ErrAlreadyExists)
	}
	return nil
}

// GetDocument loads one document.
func (s *Store) GetDocument(ctx context.Context, docID string) (*store.ProcessedDocument, error) {
	var doc store.ProcessedDocument
	if err := s.db.WithContext(ctx).Where("doc_id = ?", docID).Take(&doc).Error; err != nil {
		return nil, notFound(err, "get document")
	}
	return &doc, nil
}

// ListPendingExport returns unexported documents in processing order.
func (s *Store) ListPendingExport(ctx context.Context, limit int) ([]store.ProcessedDocument, error) {
	var docs []store.ProcessedDocument
	err := s.db.WithContext(ctx).
		Where("export_status = ?", store.ExportPending).
		Order("processing_date ASC").
		Order("doc_id ASC").
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	return docs, nil
}

// MarkExported flips a pending document to exported.
func (s *Store) MarkExported(ctx context.Context, docID, shard string) error {
	res := s.db.WithContext(ctx).
		Model(&store.ProcessedDocument{}).
		Where("doc_id = ? AND export_status = ?", docID, store.ExportPending).
		Updates(map[string]any{"export_status": store.ExportExported, "export_shard": shard})
	if res.Error != nil {
		return fmt.Errorf("mark document exported: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetDocument(ctx, docID); err != nil {
		return err
	}
	return fmt.Errorf("document %s already exported: %w", docID, store.ErrStatusConflict)
}

// CountByExportStatus groups documents by export status.
func (s *Store) CountByExportStatus(ctx context.Context) (map[store.ExportStatus]int64, error) {
	var rows []struct {
		ExportStatus store.ExportStatus
		N            int64
	}
	err := s.db.WithContext(ctx).
		Model(&store.ProcessedDocument{}).
		Select("export_status, count(*) AS n").
		Group("export_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count documents by export status: %w", err)
	}
	out := make(map[store.ExportStatus]int64, len(rows))
	for _, r := range rows {
		out[r.ExportStatus] = r.N
	}
	return out, nil
}

// InsertDedup persists a fingerprint row.
func (s *Store) InsertDedup(ctx context.Context, entry *store.DedupEntry) error {
	entry.CreatedAt = entry.CreatedAt.UTC()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry)
	if res.Error != nil {
		return fmt.Errorf("insert dedup entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("insert dedup entry %s: %w", entry.DocID, store.ErrAlreadyExists)
	}
	return nil
}

// ListDedup returns every fingerprint row, oldest first.
func (s *Store) ListDedup(ctx context.Context) ([]store.DedupEntry, error) {
	var entries []store.DedupEntry
	err := s.db.WithContext(ctx).Order("created_at ASC").Order("doc_id ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list dedup entries: %w", err)
	}
	return entries, nil
}

// DeleteDedupBefore removes fingerprints created before cutoff.
func (s *Store) DeleteDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&store.DedupEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete dedup entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateShard records a new active shard.
func (s *Store) CreateShard(ctx context.Context, shard *store.ExportShard) error {
	shard.CreatedAt = shard.CreatedAt.UTC()
	if err := s.db.WithContext(ctx).Create(shard).Error; err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	return nil
}

// UpdateShardProgress stores the running entry count and size.
func (s *Store) UpdateShardProgress(ctx context.Context, name string, entries int, size int64) error {
	res := s.db.WithContext(ctx).
		Model(&store.ExportShard{}).
		Where("name = ?", name).
		Updates(map[string]any{"entry_count": entries, "byte_size": size})
	if res.Error != nil {
		return fmt.Errorf("update shard progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
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
	finalized := at.UTC()
	res := s.db.WithContext(ctx).
		Model(&store.ExportShard{}).
		Where("name = ? AND status = ?", name, store.ShardActive).
		Updates(map[string]any{
			"entry_count":  entries,
			"byte_size":    size,
			"checksum":     checksum,
			"status":       store.ShardFinalized,
			"finalized_at": &finalized,
		})
	if res.Error != nil {
		return fmt.Errorf("finalize shard: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetShard(ctx, name); err != nil {
		return err
	}
	return fmt.Errorf("shard %s not active: %w", name, store.ErrStatusConflict)
}

// GetShard loads one shard row.
func (s *Store) GetShard(ctx context.Context, name string) (*store.ExportShard, error) {
	var shard store.ExportShard
	if err := s.db.WithContext(ctx).Where("name = ?", name).Take(&shard).Error; err != nil {
		return nil, notFound(err, "get shard")
	}
	return &shard, nil
}

// ListShards returns shards in creation order, optionally filtered by status.
func (s *Store) ListShards(ctx context.Context, status store.ShardStatus) ([]store.ExportShard, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC").Order("name ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var shards []store.ExportShard
	if err := q.Find(&shards).Error; err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	return shards, nil
}

// DeleteShard removes a shard row.
func (s *Store) DeleteShard(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Where("name = ?", name).Delete(&store.ExportShard{}).Error; err != nil {
		return fmt.Errorf("delete shard: %w", err)
	}
	return nil
}

// PutState upserts a keyed state value.
func (s *Store) PutState(ctx context.Context, key string, value []byte, at time.Time) error {
	entry := store.StateEntry{Key: key, Value: value, UpdatedAt: at.UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}

// GetState loads a keyed state value.
func (s *Store) GetState(ctx context.Context, key string) (*store.StateEntry, error) {
	var entry store.StateEntry
	if err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error; err != nil {
		return nil, notFound(err, "get state")
	}
	return &entry, nil
}

// AddCrawlStats increments the counters of the (date, domain) row.
func (s *Store) AddCrawlStats(ctx context.Context, delta store.CrawlStat) error {
	delta.ID = 0
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "domain"}},
		DoUpdates: clause.Assignments(map[string]any{
			"pages_crawled":           gorm.Expr("pages_crawled + excluded.pages_crawled"),
			"pages_successful":        gorm.Expr("pages_successful + excluded.pages_successful"),
			"pages_failed":            gorm.Expr("pages_failed + excluded.pages_failed"),
			"entries_extracted":       gorm.Expr("entries_extracted + excluded.entries_extracted"),
			"entries_exported":        gorm.Expr("entries_exported + excluded.entries_exported"),
			"duplicates_found":        gorm.Expr("duplicates_found + excluded.duplicates_found"),
			"processing_time_seconds": gorm.Expr("processing_time_seconds + excluded.processing_time_seconds"),
		}),
	}).Create(&delta).Error
	if err != nil {
		return fmt.Errorf("add crawl stats: %w", err)
	}
	return nil
}

// ListCrawlStats returns stats rows dated on or after since.
func (s *Store) ListCrawlStats(ctx context.Context, since string) ([]store.CrawlStat, error) {
	var rows []store.CrawlStat
	err := s.db.WithContext(ctx).
		Where("date >= ?", since).
		Order("date ASC").
		Order("domain ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list crawl stats: %w", err)
	}
	return rows, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
