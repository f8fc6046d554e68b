package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict signals that a compare-and-set transition found the
	// row in a different state than expected.
	ErrStatusConflict = errors.New("status conflict")
	// ErrAlreadyExists signals a unique-key collision on insert.
	ErrAlreadyExists = errors.New("record already exists")
)

// URLStatus is the lifecycle state of a frontier row.
type URLStatus string

// Frontier statuses.
const (
	StatusPending    URLStatus = "pending"
	StatusProcessing URLStatus = "processing"
	StatusCompleted  URLStatus = "completed"
	StatusFailed     URLStatus = "failed"
)

// SeenStatus records how a URL was finally resolved.
type SeenStatus string

// Seen statuses.
const (
	SeenCrawled SeenStatus = "crawled"
	SeenFailed  SeenStatus = "failed"
	SeenSkipped SeenStatus = "skipped"
)

// ExportStatus tracks whether a document has reached a shard.
type ExportStatus string

// Export statuses.
const (
	ExportPending  ExportStatus = "pending"
	ExportExported ExportStatus = "exported"
)

// ShardStatus is the lifecycle state of an export shard.
type ShardStatus string

// Shard statuses.
const (
	ShardActive    ShardStatus = "active"
	ShardFinalized ShardStatus = "finalized"
)

// Metadata is free-form JSON attached to frontier rows.
type Metadata map[string]any

// Depth reads the crawl depth recorded in the metadata, defaulting to zero.
func (m Metadata) Depth() int {
	switch v := m["depth"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// FrontierURL is one row of the URL frontier.
type FrontierURL struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	URL           string     `gorm:"uniqueIndex;size:2048;not null"`
	Domain        string     `gorm:"index;size:255;not null"`
	Priority      int        `gorm:"index;not null;default:0"`
	Depth         int        `gorm:"not null;default:0"`
	Status        URLStatus  `gorm:"index;size:16;not null"`
	AttemptCount  int        `gorm:"not null;default:0"`
	NextAttempt   *time.Time `gorm:"index"`
	LastAttempted *time.Time `gorm:"index"`
	DiscoveredAt  time.Time  `gorm:"index;not null"`
	Metadata      Metadata   `gorm:"type:text;serializer:json"`
}

// TableName pins the table name.
func (FrontierURL) TableName() string { return "url_frontier" }

// SeenURL is the write-once record of a resolved URL.
type SeenURL struct {
	URLHash   string     `gorm:"primaryKey;size:64"`
	URL       string     `gorm:"size:2048;not null"`
	FirstSeen time.Time  `gorm:"not null"`
	Status    SeenStatus `gorm:"size:16;not null"`
}

// TableName pins the table name.
func (SeenURL) TableName() string { return "seen_urls" }

// DocumentMetadata carries the extraction and classification details kept
// alongside a processed document.
type DocumentMetadata struct {
	Content         string   `json:"content"`
	Author          string   `json:"author,omitempty"`
	PublishDate     string   `json:"publish_date,omitempty"`
	Description     string   `json:"description,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	WordCount       int      `json:"word_count"`
	ReadingTime     int      `json:"reading_time"`
	FinalURL        string   `json:"final_url,omitempty"`
	ContentType     string   `json:"content_type,omitempty"`
	ResponseTime    float64  `json:"response_time"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// ProcessedDocument is a document accepted by the duplicate detector.
type ProcessedDocument struct {
	DocID          string           `gorm:"primaryKey;size:32"`
	URL            string           `gorm:"size:2048;not null"`
	URLHash        string           `gorm:"index;size:64;not null"`
	ContentHash    string           `gorm:"index;size:64;not null"`
	Title          string           `gorm:"size:1024"`
	ContentLength  int              `gorm:"not null"`
	Topic          string           `gorm:"index;size:64"`
	Subdomain      string           `gorm:"size:64"`
	Language       string           `gorm:"size:16"`
	ProcessingDate time.Time        `gorm:"index;not null"`
	ExportStatus   ExportStatus     `gorm:"index;size:16;not null"`
	ExportShard    string           `gorm:"size:255"`
	QualityScore   float64          `gorm:"not null;default:0"`
	Metadata       DocumentMetadata `gorm:"type:text;serializer:json"`
}

// TableName pins the table name.
func (ProcessedDocument) TableName() string { return "processed_documents" }

// DedupEntry holds the fingerprints of one accepted document.
type DedupEntry struct {
	DocID         string    `gorm:"primaryKey;size:32"`
	ExactHash     string    `gorm:"uniqueIndex;size:64;not null"`
	Simhash       string    `gorm:"index;size:16"`
	EmbeddingHash string    `gorm:"size:64"`
	Embedding     []byte    `gorm:"type:blob"`
	CreatedAt     time.Time `gorm:"index;not null"`
}

// TableName pins the table name.
func (DedupEntry) TableName() string { return "dedup_entries" }

// ExportShard describes one JSONL shard on disk.
type ExportShard struct {
	Name        string      `gorm:"primaryKey;size:255"`
	Path        string      `gorm:"size:1024;not null"`
	EntryCount  int         `gorm:"not null;default:0"`
	ByteSize    int64       `gorm:"not null;default:0"`
	Checksum    string      `gorm:"size:64"`
	Status      ShardStatus `gorm:"index;size:16;not null"`
	CreatedAt   time.Time   `gorm:"not null"`
	FinalizedAt *time.Time
}

// TableName pins the table name.
func (ExportShard) TableName() string { return "export_shards" }

// StateEntry is a keyed JSON blob such as the pipeline checkpoint.
type StateEntry struct {
	Key       string    `gorm:"primaryKey;size:128"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (StateEntry) TableName() string { return "system_state" }

// CrawlStat aggregates per-day, per-domain counters. Add operations
// increment the stored values.
type CrawlStat struct {
	ID                    int64   `gorm:"primaryKey;autoIncrement"`
	Date                  string  `gorm:"uniqueIndex:idx_crawl_stats_date_domain;size:10;not null"`
	Domain                string  `gorm:"uniqueIndex:idx_crawl_stats_date_domain;size:255;not null"`
	PagesCrawled          int64   `gorm:"not null;default:0"`
	PagesSuccessful       int64   `gorm:"not null;default:0"`
	PagesFailed           int64   `gorm:"not null;default:0"`
	EntriesExtracted      int64   `gorm:"not null;default:0"`
	EntriesExported       int64   `gorm:"not null;default:0"`
	DuplicatesFound       int64   `gorm:"not null;default:0"`
	ProcessingTimeSeconds float64 `gorm:"not null;default:0"`
}

// TableName pins the table name.
func (CrawlStat) TableName() string { return "crawl_stats" }
