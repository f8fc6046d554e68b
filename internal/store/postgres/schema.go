package postgres

var schema = []string{
	`CREATE TABLE IF NOT EXISTS url_frontier (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	depth INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	next_attempt TIMESTAMPTZ,
	last_attempted TIMESTAMPTZ,
	discovered_at TIMESTAMPTZ NOT NULL,
	metadata JSONB
)`,
	`CREATE INDEX IF NOT EXISTS idx_url_frontier_due ON url_frontier (status, domain, next_attempt)`,
	`CREATE INDEX IF NOT EXISTS idx_url_frontier_priority ON url_frontier (priority DESC, discovered_at)`,
	`CREATE TABLE IF NOT EXISTS seen_urls (
	url_hash TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS processed_documents (
	doc_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	url_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL,
	topic TEXT NOT NULL DEFAULT '',
	subdomain TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	processing_date TIMESTAMPTZ NOT NULL,
	export_status TEXT NOT NULL,
	export_shard TEXT NOT NULL DEFAULT '',
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata JSONB
)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_documents_export ON processed_documents (export_status, processing_date)`,
	`CREATE TABLE IF NOT EXISTS dedup_entries (
	doc_id TEXT PRIMARY KEY,
	exact_hash TEXT NOT NULL UNIQUE,
	simhash TEXT NOT NULL DEFAULT '',
	embedding_hash TEXT NOT NULL DEFAULT '',
	embedding BYTEA,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_dedup_entries_created ON dedup_entries (created_at)`,
	`CREATE TABLE IF NOT EXISTS export_shards (
	name TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	entry_count INTEGER NOT NULL DEFAULT 0,
	byte_size BIGINT NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	finalized_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS system_state (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS crawl_stats (
	id BIGSERIAL PRIMARY KEY,
	date TEXT NOT NULL,
	domain TEXT NOT NULL,
	pages_crawled BIGINT NOT NULL DEFAULT 0,
	pages_successful BIGINT NOT NULL DEFAULT 0,
	pages_failed BIGINT NOT NULL DEFAULT 0,
	entries_extracted BIGINT NOT NULL DEFAULT 0,
	entries_exported BIGINT NOT NULL DEFAULT 0,
	duplicates_found BIGINT NOT NULL DEFAULT 0,
	processing_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (date, domain)
)`,
}
