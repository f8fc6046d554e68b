package app_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/app"
	"github.com/JakeFAU/corpus-crawler/internal/clock/manual"
	"github.com/JakeFAU/corpus-crawler/internal/config"
)

const baseConfig = `
database:
  type: sqlite
  sqlite:
    path: %[1]s/db/crawler.db
storage:
  data_dir: %[1]s/data
  cache_dir: %[1]s/data/cache
  logs_dir: %[1]s/logs
  shards_dir: %[1]s/output
archive:
  kind: local
  local_dir: %[1]s/archive
domains:
  seeds:
    - tips.example
    - https://www.home.example/start
topics:
  allowed: [cleaning_techniques]
  keywords:
    cleaning_techniques: [vinegar, baking soda]
`

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o750))
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(baseConfig, dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	clk := manual.New(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewBuildsSQLiteApp(t *testing.T) {
	cfg := loadConfig(t)
	a := newApp(t, cfg)

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.CacheDir, cfg.Storage.LogsDir, cfg.Storage.ShardsDir} {
		assert.DirExists(t, dir)
	}
	assert.FileExists(t, cfg.Database.SQLite.Path)
	require.NoError(t, a.GetStore().Ping(context.Background()))

	shared, err := a.PingRedis(context.Background())
	require.NoError(t, err)
	assert.False(t, shared)
}

func TestSeeds(t *testing.T) {
	a := newApp(t, loadConfig(t))
	assert.Equal(t, []string{"https://tips.example", "https://www.home.example/start"}, a.Seeds(nil))
	assert.Equal(t, []string{"https://other.example"}, a.Seeds([]string{"other.example", "# skipped"}))
}

func TestPipelineReportsFreshStore(t *testing.T) {
	a := newApp(t, loadConfig(t))
	p, err := a.Pipeline(app.RunOptions{MaxPages: 5})
	require.NoError(t, err)

	report, err := p.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stopped", report.State)
	assert.Zero(t, report.Frontier.Total)
	assert.Zero(t, report.Export.TotalShards)
	require.NotNil(t, report.Fetch)
}

func TestExporterUsesOverrides(t *testing.T) {
	cfg := loadConfig(t)
	a := newApp(t, cfg)
	out := filepath.Join(t.TempDir(), "shards")

	e, err := a.Exporter(app.ExportOptions{Dir: out, ShardSize: 3})
	require.NoError(t, err)
	assert.Equal(t, out, e.Shards().Dir())
	assert.DirExists(t, out)

	n, err := e.ExportPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, e.Close(context.Background()))
}

func TestCleanupOnEmptyStore(t *testing.T) {
	a := newApp(t, loadConfig(t))
	urls, entries, err := a.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, urls)
	assert.Zero(t, entries)
}

func TestNewWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t)
	cfg.Database.Redis.Host = mr.Host()
	cfg.Database.Redis.Port = atoi(t, mr.Port())

	a := newApp(t, cfg)
	shared, err := a.PingRedis(context.Background())
	require.NoError(t, err)
	assert.True(t, shared)
}

func TestNewFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t)
	cfg.Database.Redis.Host = mr.Host()
	cfg.Database.Redis.Port = atoi(t, mr.Port())
	mr.Close()

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestNewRejectsUnusableArchiveDir(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Archive.LocalDir = filepath.Join(t.TempDir(), "missing", "file")
	require.NoError(t, os.WriteFile(filepath.Dir(cfg.Archive.LocalDir), []byte("x"), 0o600))

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
