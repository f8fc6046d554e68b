package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

const (
	frontierColumns = `id, url, domain, priority, depth, status, attempt_count, next_attempt,
	last_attempted, discovered_at, metadata`
	documentColumns = `doc_id, url, url_hash, content_hash, title, content_length, topic, subdomain,
	language, processing_date, export_status, export_shard, quality_score, metadata`
	shardColumns = `name, path, entry_count, byte_size, checksum, status, created_at, finalized_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanFrontier(row scanner) (*store.FrontierURL, error) {
	var (
		u      store.FrontierURL
		status string
		meta   []byte
	)
	err := row.Scan(&u.ID, &u.URL, &u.Domain, &u.Priority, &u.Depth, &status, &u.AttemptCount,
		&u.NextAttempt, &u.LastAttempted, &u.DiscoveredAt, &meta)
	if err != nil {
		return nil, err
	}
	u.Status = store.URLStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return nil, fmt.Errorf("decode url metadata: %w", err)
		}
	}
	return &u, nil
}

func scanDocument(row scanner) (*store.ProcessedDocument, error) {
	var (
		d      store.ProcessedDocument
		status string
		meta   []byte
	)
	err := row.Scan(&d.DocID, &d.URL, &d.URLHash, &d.ContentHash, &d.Title, &d.ContentLength, &d.Topic,
		&d.Subdomain, &d.Language, &d.ProcessingDate, &status, &d.ExportShard, &d.QualityScore, &meta)
	if err != nil {
		return nil, err
	}
	d.ExportStatus = store.ExportStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	return &d, nil
}

func scanShard(row scanner) (*store.ExportShard, error) {
	var (
		s      store.ExportShard
		status string
	)
	err := row.Scan(&s.Name, &s.Path, &s.EntryCount, &s.ByteSize, &s.Checksum, &status, &s.CreatedAt, &s.FinalizedAt)
	if err != nil {
		return nil, err
	}
	s.Status = store.ShardStatus(status)
	return &s, nil
}
