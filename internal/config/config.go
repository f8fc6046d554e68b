// Package config loads and validates crawler configuration via Viper.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob the crawler reads. It is built once at startup
// and passed by value into constructors.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Content    ContentConfig    `mapstructure:"content"`
	Dedup      DedupConfig      `mapstructure:"deduplication"`
	Export     ExportConfig     `mapstructure:"export"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Domains    DomainsConfig    `mapstructure:"domains"`
	Topics     TopicsConfig     `mapstructure:"topics"`
}

// CrawlerConfig governs fetching and politeness.
type CrawlerConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	UserAgent         string  `mapstructure:"user_agent"`
	Timeout           float64 `mapstructure:"timeout"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffFactor     float64 `mapstructure:"retry_backoff_factor"`
	MaxRedirects      int     `mapstructure:"max_redirects"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
	PolitenessDelay   float64 `mapstructure:"politeness_delay"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	MaxDepth          int     `mapstructure:"max_depth"`
	HostRPS           float64 `mapstructure:"host_rps"`
	StayOnSeedDomains bool    `mapstructure:"stay_on_seed_domains"`
	RetryDelay        float64 `mapstructure:"retry_delay"`
}

// DatabaseConfig selects and configures the persistent store.
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig enables the shared seen-URL set when Host is set.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	Key      string `mapstructure:"key"`
}

// ContentConfig holds text quality gates.
type ContentConfig struct {
	MinLength    int  `mapstructure:"min_length"`
	RemoveEmojis bool `mapstructure:"remove_emojis"`
	MaskPII      bool `mapstructure:"mask_pii"`
}

// DedupConfig tunes the duplicate detector tiers.
type DedupConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	SimhashWindow       int     `mapstructure:"simhash_window"`
	EmbeddingDim        int     `mapstructure:"embedding_dim"`
	MaxEmbeddingWords   int     `mapstructure:"max_embedding_words"`
	ExactEnabled        bool    `mapstructure:"exact_hash_enabled"`
	SimhashEnabled      bool    `mapstructure:"simhash_enabled"`
	EmbeddingEnabled    bool    `mapstructure:"embedding_similarity_enabled"`
}

// ExportConfig controls shard layout.
type ExportConfig struct {
	ShardSize       int    `mapstructure:"shard_size"`
	ShardPrefix     string `mapstructure:"shard_prefix"`
	DeliveryVersion string `mapstructure:"delivery_version"`
	BatchSize       int    `mapstructure:"batch_size"`
}

// PipelineConfig controls orchestrator cadence.
type PipelineConfig struct {
	BatchSize          int `mapstructure:"batch_size"`
	CheckpointInterval int `mapstructure:"checkpoint_interval"`
	CleanupEvery       int `mapstructure:"cleanup_every_checkpoints"`
}

// RetentionConfig bounds how long resolved frontier and dedup rows live.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// StorageConfig lists working directories.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	CacheDir  string `mapstructure:"cache_dir"`
	LogsDir   string `mapstructure:"logs_dir"`
	ShardsDir string `mapstructure:"shards_dir"`
}

// ArchiveConfig optionally copies finalized shards to a blob store.
type ArchiveConfig struct {
	Kind      string `mapstructure:"kind"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig enables shard-finalized announcements.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MonitoringConfig controls logging and the status listener.
type MonitoringConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	Development bool   `mapstructure:"development"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DomainsConfig lists seeds and per-domain request ceilings.
type DomainsConfig struct {
	Seeds            []string       `mapstructure:"seeds"`
	DefaultRateLimit int            `mapstructure:"default_rate_limit"`
	RateLimits       map[string]int `mapstructure:"rate_limits"`
}

// TopicsConfig feeds the rule-based classifier.
type TopicsConfig struct {
	Allowed       []string            `mapstructure:"allowed"`
	Keywords      map[string][]string `mapstructure:"keywords"`
	Patterns      map[string][]string `mapstructure:"patterns"`
	Subdomains    map[string]string   `mapstructure:"subdomains"`
	MinConfidence float64             `mapstructure:"min_confidence"`
}

// legacyEnv maps the historical unprefixed variables onto config keys.
var legacyEnv = map[string]string{
	"crawler.concurrency":      "CRAWLER_CONCURRENCY",
	"crawler.user_agent":       "CRAWLER_USER_AGENT",
	"crawler.timeout":          "CRAWLER_TIMEOUT",
	"crawler.max_retries":      "CRAWLER_MAX_RETRIES",
	"crawler.politeness_delay": "CRAWLER_POLITENESS_DELAY",
	"database.type":            "DB_TYPE",
	"database.sqlite.path":     "DB_SQLITE_PATH",
	"database.redis.host":      "REDIS_HOST",
	"database.redis.port":      "REDIS_PORT",
	"database.redis.db":        "REDIS_DB",
	"export.shard_size":        "EXPORT_SHARD_SIZE",
	"storage.data_dir":         "STORAGE_DATA_DIR",
	"storage.cache_dir":        "STORAGE_CACHE_DIR",
	"storage.logs_dir":         "STORAGE_LOGS_DIR",
	"storage.shards_dir":       "STORAGE_SHARDS_DIR",
	"monitoring.log_level":     "MONITORING_LOG_LEVEL",
	"monitoring.metrics_addr":  "MONITORING_METRICS_ADDR",
	"database.postgres.dsn":    "DATABASE_URL",
	"archive.gcs_bucket":       "ARCHIVE_GCS_BUCKET",
	"pubsub.project_id":        "PUBSUB_PROJECT_ID",
	"pubsub.topic_name":        "PUBSUB_TOPIC_NAME",
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv lets both CRAWLER_<KEY> and the legacy name override a key.
// Viper picks the first variable that is set.
func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "CRAWLER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		names := []string{key, prefixed}
		if legacy != prefixed {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 64)
	v.SetDefault("crawler.user_agent", "LifeTipsCrawler/1.0")
	v.SetDefault("crawler.timeout", 30)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_backoff_factor", 2.0)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawler.politeness_delay", 1.0)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.host_rps", 2.0)
	v.SetDefault("crawler.stay_on_seed_domains", true)
	v.SetDefault("crawler.retry_delay", 3600)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "data/crawler.db")
	v.SetDefault("database.postgres.max_conns", 8)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.key", "crawler:seen")
	v.SetDefault("content.min_length", 200)
	v.SetDefault("content.remove_emojis", true)
	v.SetDefault("content.mask_pii", true)
	v.SetDefault("deduplication.similarity_threshold", 0.05)
	v.SetDefault("deduplication.simhash_window", 100)
	v.SetDefault("deduplication.embedding_dim", 384)
	v.SetDefault("deduplication.max_embedding_words", 512)
	v.SetDefault("deduplication.exact_hash_enabled", true)
	v.SetDefault("deduplication.simhash_enabled", true)
	v.SetDefault("deduplication.embedding_similarity_enabled", true)
	v.SetDefault("export.shard_size", 10000)
	v.SetDefault("export.shard_prefix", "life_tips")
	v.SetDefault("export.delivery_version", "V1.0")
	v.SetDefault("export.batch_size", 100)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.checkpoint_interval", 1000)
	v.SetDefault("pipeline.cleanup_every_checkpoints", 10)
	v.SetDefault("retention.days", 30)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.cache_dir", "data/cache")
	v.SetDefault("storage.logs_dir", "logs")
	v.SetDefault("storage.shards_dir", "output")
	v.SetDefault("archive.kind", "none")
	v.SetDefault("archive.prefix", "shards")
	v.SetDefault("monitoring.log_level", "info")
	v.SetDefault("monitoring.development", false)
	v.SetDefault("domains.default_rate_limit", 10)
	v.SetDefault("topics.min_confidence", 0.3)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.BackoffFactor < 1 {
		return fmt.Errorf("crawler.retry_backoff_factor must be >= 1")
	}
	if c.Crawler.PolitenessDelay < 0 {
		return fmt.Errorf("crawler.politeness_delay must be >= 0")
	}
	switch c.Database.Type {
	case "sqlite":
		if strings.TrimSpace(c.Database.SQLite.Path) == "" {
			return fmt.Errorf("database.sqlite.path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.Postgres.DSN) == "" {
			return fmt.Errorf("database.postgres.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.type %q is not supported", c.Database.Type)
	}
	if c.Content.MinLength < 0 {
		return fmt.Errorf("content.min_length must be >= 0")
	}
	if c.Dedup.SimilarityThreshold < 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("deduplication.similarity_threshold must be within [0,1]")
	}
	if c.Dedup.SimhashWindow <= 0 {
		return fmt.Errorf("deduplication.simhash_window must be > 0")
	}
	if c.Dedup.EmbeddingDim <= 0 {
		return fmt.Errorf("deduplication.embedding_dim must be > 0")
	}
	if c.Export.ShardSize <= 0 {
		return fmt.Errorf("export.shard_size must be > 0")
	}
	if c.Pipeline.CheckpointInterval <= 0 {
		return fmt.Errorf("pipeline.checkpoint_interval must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be > 0")
	}
	if strings.TrimSpace(c.Storage.ShardsDir) == "" {
		return fmt.Errorf("storage.shards_dir is required")
	}
	switch c.Archive.Kind {
	case "", "none":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required when archive.kind is gcs")
		}
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required when archive.kind is local")
		}
	default:
		return fmt.Errorf("archive.kind %q is not supported", c.Archive.Kind)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// FetchTimeout is the per-attempt request budget.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return seconds(c.Timeout)
}

// MinDelay is the minimum spacing between requests to one domain.
func (c CrawlerConfig) MinDelay() time.Duration {
	return seconds(c.PolitenessDelay)
}

// RetryAfter is the frontier reschedule delay for retryable fetch failures.
func (c CrawlerConfig) RetryAfter() time.Duration {
	return seconds(c.RetryDelay)
}

// RetentionWindow converts the retention days into a duration.
func (c RetentionConfig) RetentionWindow() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

// RateLimitFor returns the requests-per-minute ceiling for domain.
func (c DomainsConfig) RateLimitFor(domain string) int {
	if limit, ok := c.RateLimits[strings.ToLower(domain)]; ok && limit > 0 {
		return limit
	}
	if c.DefaultRateLimit > 0 {
		return c.DefaultRateLimit
	}
	return 10
}

// SeedURLs returns the configured seeds as absolute URLs. Bare domains get
// an https:// scheme.
func (c DomainsConfig) SeedURLs() []string {
	out := make([]string, 0, len(c.Seeds))
	for _, seed := range c.Seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" || strings.HasPrefix(seed, "#") {
			continue
		}
		if !strings.Contains(seed, "://") {
			seed = "https://" + seed
		}
		out = append(out, seed)
	}
	return out
}

// ReadDomainsFile reads one seed per line, skipping blanks and # comments.
func ReadDomainsFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open domains file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var seeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read domains file: %w", err)
	}
	return seeds, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
