package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "crawler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func addURL(t *testing.T, s *Store, raw, domain string, priority int, discovered time.Time) *store.FrontierURL {
	t.Helper()
	u := &store.FrontierURL{
		URL:          raw,
		Domain:       domain,
		Priority:     priority,
		Status:       store.StatusPending,
		DiscoveredAt: discovered,
		Metadata:     store.Metadata{"seed": true},
	}
	inserted, err := s.InsertURL(context.Background(), u)
	require.NoError(t, err)
	require.True(t, inserted)
	return u
}

func TestFrontierClaimLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	low := addURL(t, s, "https://a.example/low", "a.example", 0, now)
	high := addURL(t, s, "https://a.example/high", "a.example", 100, now.Add(time.Minute))
	addURL(t, s, "https://b.example/", "b.example", 50, now)

	dup := &store.FrontierURL{URL: "https://a.example/low", Domain: "a.example", Status: store.StatusPending, DiscoveredAt: now}
	inserted, err := s.InsertURL(ctx, dup)
	require.NoError(t, err)
	require.False(t, inserted)

	domains, err := s.PendingDomains(ctx, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.example", "b.example"}, domains)

	next, err := s.NextPending(ctx, []string{"a.example"}, now)
	require.NoError(t, err)
	require.Equal(t, high.ID, next.ID)
	require.Equal(t, true, next.Metadata["seed"])

	require.NoError(t, s.Claim(ctx, high.ID, now))
	require.ErrorIs(t, s.Claim(ctx, high.ID, now), store.ErrStatusConflict)

	got, err := s.GetURL(ctx, high.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusProcessing, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastAttempted)

	require.NoError(t, s.Reschedule(ctx, high.ID, now.Add(time.Hour)))
	next, err = s.NextPending(ctx, []string{"a.example"}, now)
	require.NoError(t, err)
	require.Equal(t, low.ID, next.ID, "rescheduled row is not due yet")

	next, err = s.NextPending(ctx, []string{"a.example"}, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, high.ID, next.ID)

	require.NoError(t, s.Claim(ctx, low.ID, now))
	require.NoError(t, s.Complete(ctx, low.ID))
	require.ErrorIs(t, s.Fail(ctx, low.ID), store.ErrStatusConflict)
	require.ErrorIs(t, s.Complete(ctx, 9999), store.ErrNotFound)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[store.StatusPending])
	require.Equal(t, int64(1), counts[store.StatusCompleted])

	deleted, err := s.DeleteResolvedBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = s.NextPending(ctx, nil, now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	u := addURL(t, s, "https://c.example/", "c.example", 0, now)
	require.NoError(t, s.Claim(ctx, u.ID, now))

	n, err := s.ResetProcessing(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.GetURL(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, got.Status)
}

func TestSeenIsWriteOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	first := store.SeenURL{URLHash: "h1", URL: "https://x/", FirstSeen: time.Now(), Status: store.SeenCrawled}
	require.NoError(t, s.RecordSeen(ctx, first))
	first.Status = store.SeenFailed
	require.NoError(t, s.RecordSeen(ctx, first))

	hashes, err := s.AllSeenHashes(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"h1"}, hashes)
}

func TestDocumentExportTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	doc := &store.ProcessedDocument{
		DocID:          "abc123",
		URL:            "https://x/tips",
		URLHash:        "uh",
		ContentHash:    "ch",
		Title:          "Tips",
		ContentLength:  42,
		Topic:          "home_care",
		ProcessingDate: time.Now(),
		Metadata:       store.DocumentMetadata{Content: "body", Keywords: []string{"a"}},
	}
	require.NoError(t, s.InsertDocument(ctx, doc))
	require.ErrorIs(t, s.InsertDocument(ctx, doc), store.ErrAlreadyExists)

	pending, err := s.ListPendingExport(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "body", pending[0].Metadata.Content)

	require.NoError(t, s.MarkExported(ctx, "abc123", "shard_a.jsonl"))
	require.ErrorIs(t, s.MarkExported(ctx, "abc123", "shard_b.jsonl"), store.ErrStatusConflict)
	require.ErrorIs(t, s.MarkExported(ctx, "missing", "shard_b.jsonl"), store.ErrNotFound)

	got, err := s.GetDocument(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, store.ExportExported, got.ExportStatus)
	require.Equal(t, "shard_a.jsonl", got.ExportShard)

	counts, err := s.CountByExportStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[store.ExportExported])
}

func TestDedupEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, s.InsertDedup(ctx, &store.DedupEntry{
		DocID: "d1", ExactHash: "e1", Simhash: "00000000000000ff",
		Embedding: store.EncodeVector([]float32{1, 0}), CreatedAt: old,
	}))
	require.NoError(t, s.InsertDedup(ctx, &store.DedupEntry{DocID: "d2", ExactHash: "e2", CreatedAt: time.Now()}))
	require.ErrorIs(t, s.InsertDedup(ctx, &store.DedupEntry{DocID: "d3", ExactHash: "e1", CreatedAt: time.Now()}),
		store.ErrAlreadyExists)

	entries, err := s.ListDedup(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "d1", entries[0].DocID)
	vec, err := store.DecodeVector(entries[0].Embedding)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, vec)

	n, err := s.DeleteDedupBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestShardLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateShard(ctx, &store.ExportShard{
		Name: "s1.jsonl", Path: "/out/s1.jsonl", Status: store.ShardActive, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.UpdateShardProgress(ctx, "s1.jsonl", 100, 2048))
	require.ErrorIs(t, s.UpdateShardProgress(ctx, "nope", 1, 1), store.ErrNotFound)

	active, err := s.ListShards(ctx, store.ShardActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, 100, active[0].EntryCount)

	require.NoError(t, s.FinalizeShard(ctx, "s1.jsonl", 120, 4096, "sum", time.Now()))
	require.ErrorIs(t, s.FinalizeShard(ctx, "s1.jsonl", 120, 4096, "sum", time.Now()), store.ErrStatusConflict)

	got, err := s.GetShard(ctx, "s1.jsonl")
	require.NoError(t, err)
	require.Equal(t, store.ShardFinalized, got.Status)
	require.Equal(t, "sum", got.Checksum)
	require.NotNil(t, got.FinalizedAt)

	require.NoError(t, s.DeleteShard(ctx, "s1.jsonl"))
	_, err = s.GetShard(ctx, "s1.jsonl")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStateAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetState(ctx, "pipeline_checkpoint")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutState(ctx, "pipeline_checkpoint", []byte(`{"n":1}`), time.Now()))
	require.NoError(t, s.PutState(ctx, "pipeline_checkpoint", []byte(`{"n":2}`), time.Now()))
	entry, err := s.GetState(ctx, "pipeline_checkpoint")
	require.NoError(t, err)
	require.JSONEq(t, `{"n":2}`, string(entry.Value))

	delta := store.CrawlStat{Date: "2024-05-01", Domain: "x.example", PagesCrawled: 1, PagesSuccessful: 1, ProcessingTimeSeconds: 0.5}
	require.NoError(t, s.AddCrawlStats(ctx, delta))
	require.NoError(t, s.AddCrawlStats(ctx, delta))

	rows, err := s.ListCrawlStats(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].PagesCrawled)
	require.InDelta(t, 1.0, rows[0].ProcessingTimeSeconds, 1e-9)

	require.NoError(t, s.Ping(ctx))
}
