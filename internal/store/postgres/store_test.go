package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestInsertURL(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	u := &store.FrontierURL{
		URL:          "https://example.com/",
		Domain:       "example.com",
		Priority:     100,
		Status:       store.StatusPending,
		DiscoveredAt: now,
		Metadata:     store.Metadata{"seed": true},
	}
	mock.ExpectQuery("INSERT INTO url_frontier").
		WithArgs(u.URL, u.Domain, 100, 0, "pending", now, []byte(`{"seed":true}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	inserted, err := s.InsertURL(context.Background(), u)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, int64(7), u.ID)

	mock.ExpectQuery("INSERT INTO url_frontier").
		WithArgs(u.URL, u.Domain, 100, 0, "pending", now, []byte(`{"seed":true}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	inserted, err = s.InsertURL(context.Background(), u)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCompareAndSet(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE url_frontier").
		WithArgs(int64(7), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.Claim(context.Background(), 7, now))

	mock.ExpectExec("UPDATE url_frontier").
		WithArgs(int64(7), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM url_frontier").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("processing"))
	require.ErrorIs(t, s.Claim(context.Background(), 7, now), store.ErrStatusConflict)

	mock.ExpectExec("UPDATE url_frontier").
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM url_frontier").
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	require.ErrorIs(t, s.Complete(context.Background(), 8), store.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status, count").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(3)).
			AddRow("completed", int64(5)))

	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[store.URLStatus]int64{store.StatusPending: 3, store.StatusCompleted: 5}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingDomainsPropagatesErrors(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT DISTINCT domain").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"domain"}).AddRow("a.example").AddRow("b.example"))
	domains, err := s.PendingDomains(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, []string{"a.example", "b.example"}, domains)

	mock.ExpectQuery("SELECT DISTINCT domain").
		WithArgs(now).
		WillReturnError(errors.New("boom"))
	_, err = s.PendingDomains(context.Background(), now)
	require.ErrorContains(t, err, "list pending domains")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExported(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE processed_documents").
		WithArgs("doc1", "shard.jsonl").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.MarkExported(context.Background(), "doc1", "shard.jsonl"))

	mock.ExpectExec("UPDATE processed_documents").
		WithArgs("doc1", "shard.jsonl").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT export_status FROM processed_documents").
		WithArgs("doc1").
		WillReturnRows(pgxmock.NewRows([]string{"export_status"}).AddRow("exported"))
	require.ErrorIs(t, s.MarkExported(context.Background(), "doc1", "shard.jsonl"), store.ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateAndStatsUpserts(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO system_state").
		WithArgs("pipeline_checkpoint", []byte(`{}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.PutState(context.Background(), "pipeline_checkpoint", []byte(`{}`), now))

	mock.ExpectExec("INSERT INTO crawl_stats").
		WithArgs("2024-05-01", "x.example", int64(1), int64(1), int64(0), int64(1), int64(0), int64(0), 0.25).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.AddCrawlStats(context.Background(), store.CrawlStat{
		Date: "2024-05-01", Domain: "x.example", PagesCrawled: 1, PagesSuccessful: 1,
		EntriesExtracted: 1, ProcessingTimeSeconds: 0.25,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsSchema(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
