package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/clock"
	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-crawler/internal/metrics"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// ErrShardClosed is returned by Write after Close.
var ErrShardClosed = errors.New("shard manager closed")

const (
	shardExt        = ".jsonl"
	tmpExt          = ".tmp"
	shardMediaType  = "application/x-ndjson"
	progressDefault = 100
)

// Archiver receives a copy of every finalized shard.
type Archiver interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// Announcer publishes shard events.
type Announcer interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDSource yields short random suffixes for shard names.
type IDSource interface {
	ShortID(n int) (string, error)
}

// ShardEvent is announced when a shard is finalized.
type ShardEvent struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	Entries     int       `json:"entries"`
	Bytes       int64     `json:"bytes"`
	Checksum    string    `json:"checksum"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// ShardConfig tunes rotation.
type ShardConfig struct {
	Dir       string
	Prefix    string
	ShardSize int
	// ProgressEvery persists entry_count and byte_size every N writes.
	ProgressEvery int
}

// ShardOption customizes a ShardManager.
type ShardOption func(*ShardManager)

// WithArchive uploads finalized shards through a.
func WithArchive(a Archiver) ShardOption {
	return func(m *ShardManager) { m.archive = a }
}

// WithAnnouncer publishes a ShardEvent to topic after each finalize.
func WithAnnouncer(a Announcer, topic string) ShardOption {
	return func(m *ShardManager) {
		m.announcer = a
		m.topic = topic
	}
}

// shardFile is the open .tmp file of the active shard.
type shardFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Close() error
}

type activeShard struct {
	name    string
	path    string
	file    shardFile
	entries int
	size    int64
}

// ShardManager owns the single active shard. It is safe for concurrent use;
// writes and rotation are serialized.
type ShardManager struct {
	store  store.ShardStore
	ids    IDSource
	clock  clock.Clock
	logger *zap.Logger
	cfg    ShardConfig

	archive   Archiver
	announcer Announcer
	topic     string

	mu     sync.Mutex
	active *activeShard
	closed bool
}

// NewShardManager creates the shards directory if needed.
func NewShardManager(
	st store.ShardStore,
	ids IDSource,
	clk clock.Clock,
	logger *zap.Logger,
	cfg ShardConfig,
	opts ...ShardOption,
) (*ShardManager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("shards directory is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "life_tips"
	}
	if cfg.ShardSize <= 0 {
		cfg.ShardSize = 10000
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = progressDefault
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create shards directory: %w", err)
	}
	m := &ShardManager{store: st, ids: ids, clock: clk, logger: logger, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the shards directory.
func (m *ShardManager) Dir() string { return m.cfg.Dir }

// Write appends entry to the active shard, rotating first when the shard is
// full, and returns the shard name.
func (m *ShardManager) Write(ctx context.Context, entry Entry) (string, error) {
	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry %s: %w", entry.ID, err)
	}
	line = append(line, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrShardClosed
	}
	if m.active == nil || m.active.entries >= m.cfg.ShardSize {
		if err := m.rotate(ctx); err != nil {
			return "", err
		}
	}
	a := m.active
	if _, err := a.file.Write(line); err != nil {
		return "", m.rollback(a, fmt.Errorf("write shard %s: %w", a.name, err))
	}
	if err := a.file.Sync(); err != nil {
		return "", m.rollback(a, fmt.Errorf("sync shard %s: %w", a.name, err))
	}
	a.entries++
	a.size += int64(len(line))
	if a.entries%m.cfg.ProgressEvery == 0 {
		if err := m.store.UpdateShardProgress(ctx, a.name, a.entries, a.size); err != nil {
			m.logger.Warn("failed to persist shard progress", zap.String("shard", a.name), zap.Error(err))
		}
	}
	return a.name, nil
}

// rollback cuts a failed line off the active shard so the next write starts
// on a line boundary and the caller can retry the entry.
func (m *ShardManager) rollback(a *activeShard, cause error) error {
	if err := a.file.Truncate(a.size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate shard %s: %w", a.name, err))
	}
	return cause
}

func (m *ShardManager) rotate(ctx context.Context) error {
	if m.active != nil {
		if err := m.finalizeActive(ctx); err != nil {
			return err
		}
	}
	suffix, err := m.ids.ShortID(8)
	if err != nil {
		return fmt.Errorf("shard id: %w", err)
	}
	now := m.clock.Now()
	name := fmt.Sprintf("%s_%s_%s%s", m.cfg.Prefix, now.UTC().Format("20060102_150405"), suffix, shardExt)
	path := filepath.Join(m.cfg.Dir, name)

	f, err := os.OpenFile(path+tmpExt, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // shard dir is operator configured
	if err != nil {
		return fmt.Errorf("create shard %s: %w", name, err)
	}
	row := &store.ExportShard{Name: name, Path: path, Status: store.ShardActive, CreatedAt: now}
	if err := m.store.CreateShard(ctx, row); err != nil {
		_ = f.Close()
		_ = os.Remove(path + tmpExt)
		return fmt.Errorf("record shard %s: %w", name, err)
	}
	m.active = &activeShard{name: name, path: path, file: f}
	m.logger.Info("opened shard", zap.String("shard", name))
	return nil
}

func (m *ShardManager) finalizeActive(ctx context.Context) error {
	a := m.active
	m.active = nil
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close shard %s: %w", a.name, err)
	}
	return m.finalizeFile(ctx, a.name, a.path)
}

// finalizeFile seals path+".tmp" into path and records the result.
func (m *ShardManager) finalizeFile(ctx context.Context, name, path string) error {
	tmp := path + tmpExt
	info, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("stat shard %s: %w", name, err)
	}
	checksum, _, err := sha256.File(tmp)
	if err != nil {
		return fmt.Errorf("checksum shard %s: %w", name, err)
	}
	entries, err := countLines(tmp)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename shard %s: %w", name, err)
	}
	at := m.clock.Now()
	if err := m.store.FinalizeShard(ctx, name, entries, info.Size(), checksum, at); err != nil {
		return fmt.Errorf("record finalized shard %s: %w", name, err)
	}
	metrics.ObserveShardFinalized()
	m.logger.Info("finalized shard",
		zap.String("shard", name),
		zap.Int("entries", entries),
		zap.Int64("bytes", info.Size()),
		zap.String("checksum", checksum))

	event := ShardEvent{
		Name:        name,
		Path:        path,
		Entries:     entries,
		Bytes:       info.Size(),
		Checksum:    checksum,
		FinalizedAt: at.UTC(),
	}
	event.ArchiveURI = m.upload(ctx, name, path)
	m.announce(ctx, event)
	return nil
}

// upload and announce are best effort: the shard is already durable locally.
func (m *ShardManager) upload(ctx context.Context, name, path string) string {
	if m.archive == nil {
		return ""
	}
	f, err := os.Open(path) //nolint:gosec // finalized shard inside the shards dir
	if err != nil {
		m.logger.Warn("failed to open shard for archive", zap.String("shard", name), zap.Error(err))
		return ""
	}
	defer f.Close() //nolint:errcheck // read-only handle
	uri, err := m.archive.PutObject(ctx, name, shardMediaType, f)
	if err != nil {
		m.logger.Warn("failed to archive shard", zap.String("shard", name), zap.Error(err))
		return ""
	}
	return uri
}

func (m *ShardManager) announce(ctx context.Context, event ShardEvent) {
	if m.announcer == nil || m.topic == "" {
		return
	}
	if _, err := m.announcer.Publish(ctx, m.topic, event); err != nil {
		m.logger.Warn("failed to announce shard", zap.String("shard", event.Name), zap.Error(err))
	}
}

// Close finalizes the active shard. Later writes fail with ErrShardClosed.
func (m *ShardManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.active == nil {
		return nil
	}
	return m.finalizeActive(ctx)
}

// Recover seals shards left open by a crash: active rows and stray .tmp
// files. A trailing partial line is cut off; a shard without one complete
// line is discarded. It returns how many shards were finalized.
func (m *ShardManager) Recover(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.store.ListShards(ctx, store.ShardActive)
	if err != nil {
		return 0, fmt.Errorf("list active shards: %w", err)
	}
	known := make(map[string]struct{}, len(rows))
	recovered := 0
	for _, row := range rows {
		known[row.Path+tmpExt] = struct{}{}
		ok, err := m.recoverOne(ctx, row.Name, row.Path)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}

	strays, err := filepath.Glob(filepath.Join(m.cfg.Dir, "*"+shardExt+tmpExt))
	if err != nil {
		return recovered, fmt.Errorf("scan shards directory: %w", err)
	}
	for _, tmp := range strays {
		if _, seen := known[tmp]; seen {
			continue
		}
		path := strings.TrimSuffix(tmp, tmpExt)
		name := filepath.Base(path)
		row := &store.ExportShard{Name: name, Path: path, Status: store.ShardActive, CreatedAt: m.clock.Now()}
		if err := m.store.CreateShard(ctx, row); err != nil {
			return recovered, fmt.Errorf("record stray shard %s: %w", name, err)
		}
		ok, err := m.recoverOne(ctx, name, path)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		m.logger.Info("recovered partial shards", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (m *ShardManager) recoverOne(ctx context.Context, name, path string) (bool, error) {
	tmp := path + tmpExt
	if _, err := os.Stat(tmp); err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("stat shard %s: %w", name, err)
		}
		// Renamed before the row was updated.
		if _, err := os.Stat(path); err == nil {
			if err := os.Rename(path, tmp); err != nil {
				return false, fmt.Errorf("reopen shard %s: %w", name, err)
			}
		} else {
			m.logger.Warn("dropping shard row without file", zap.String("shard", name))
			return false, m.store.DeleteShard(ctx, name)
		}
	}

	lines, err := truncatePartialLine(tmp)
	if err != nil {
		return false, err
	}
	if lines == 0 {
		m.logger.Warn("discarding empty shard", zap.String("shard", name))
		if err := os.Remove(tmp); err != nil {
			return false, fmt.Errorf("remove empty shard %s: %w", name, err)
		}
		return false, m.store.DeleteShard(ctx, name)
	}
	if err := m.finalizeFile(ctx, name, path); err != nil {
		return false, err
	}
	return true, nil
}

// truncatePartialLine cuts everything after the last newline and returns the
// number of complete lines left.
func truncatePartialLine(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // shard inside the shards dir
	if err != nil {
		return 0, fmt.Errorf("read shard %s: %w", path, err)
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if keep < len(data) {
		if err := os.Truncate(path, int64(keep)); err != nil {
			return 0, fmt.Errorf("truncate shard %s: %w", path, err)
		}
	}
	return bytes.Count(data[:keep], []byte{'\n'}), nil
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // shard inside the shards dir
	if err != nil {
		return 0, fmt.Errorf("read shard %s: %w", path, err)
	}
	return bytes.Count(data, []byte{'\n'}), nil
}
