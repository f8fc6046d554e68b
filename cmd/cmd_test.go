package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
database:
  sqlite:
    path: %[1]s/db/crawler.db
storage:
  data_dir: %[1]s/data
  cache_dir: %[1]s/data/cache
  logs_dir: %[1]s/logs
  shards_dir: %[1]s/output
crawler:
  politeness_delay: 0
  max_retries: 0
  timeout: 5
content:
  min_length: 100
monitoring:
  log_level: error
domains:
  seeds: ["%[2]s"]
topics:
  allowed: [%[3]s]
  keywords:
    cleaning_techniques: [vinegar, baking soda, scrub]
  min_confidence: 0.1
`

const articleHTML = `<!DOCTYPE html><html lang="en"><head><title>How to Clean a Burnt Pan</title></head><body>
<article><h1>How to Clean a Burnt Pan</h1>
<p>Soak the burnt pan in warm water with a spoon of baking soda for twenty minutes before you start.</p>
<p>Scrub gently with a soft sponge and rinse well before drying it on a rack near the window.</p>
<p>Repeat once a week to keep the surface clean and free of stubborn residue and old grease.</p>
<p>A little white vinegar on a cloth lifts the last cloudy marks without scratching the coating.</p>
</article></body></html>`

func writeConfig(t *testing.T, seed, topic string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, dir, seed, topic)), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	cfg, dir := writeConfig(t, "tips.example", "cleaning_techniques")
	out, err := execute(t, "--config", cfg, "validate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok    directories")
	assert.Contains(t, out, "ok    database and backends")
	assert.Contains(t, out, "configuration is valid")
	assert.NotContains(t, out, "redis")
	assert.DirExists(t, filepath.Join(dir, "logs"))
}

func TestValidateCommandReportsEmptyTopics(t *testing.T) {
	cfg, _ := writeConfig(t, "tips.example", "")
	out, err := execute(t, "--config", cfg, "validate")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, out, "FAIL  topics")
}

func TestConfigErrorFailsCommand(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	require.Error(t, err)
}

func TestStatusCommandFormats(t *testing.T) {
	cfg, _ := writeConfig(t, "tips.example", "cleaning_techniques")

	out, err := execute(t, "--config", cfg, "status", "--format", "json")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "stopped", report["state"])

	out, err = execute(t, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Frontier")
	assert.Contains(t, out, "no checkpoint recorded")

	_, err = execute(t, "--config", cfg, "status", "--format", "xml")
	require.Error(t, err)
}

func TestCleanupCommand(t *testing.T) {
	cfg, _ := writeConfig(t, "tips.example", "cleaning_techniques")
	out, err := execute(t, "--config", cfg, "cleanup", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 urls and 0 dedup entries older than 7 days")

	_, err = execute(t, "--config", cfg, "cleanup", "--days", "0")
	require.Error(t, err)
}

func TestExportCommandWithNothingPending(t *testing.T) {
	cfg, dir := writeConfig(t, "tips.example", "cleaning_techniques")
	outDir := filepath.Join(dir, "elsewhere")
	out, err := execute(t, "--config", cfg, "export", "--out-dir", outDir, "--validate")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 0 documents to "+outDir)
	assert.Contains(t, out, "validated 0 shards, 0 invalid")
}

func TestCrawlRejectsMissingDomainsFile(t *testing.T) {
	cfg, dir := writeConfig(t, "tips.example", "cleaning_techniques")
	_, err := execute(t, "--config", cfg, "crawl", "--domains-file", filepath.Join(dir, "nope.txt"))
	require.Error(t, err)

	_, err = execute(t, "--config", cfg, "crawl", "--concurrency", "0")
	require.Error(t, err)
}

func TestAllCommandCrawlsAndExports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	t.Cleanup(srv.Close)

	cfg, dir := writeConfig(t, srv.URL+"/", "cleaning_techniques")
	domains := filepath.Join(dir, "domains.txt")
	require.NoError(t, os.WriteFile(domains, []byte("# seeds\n"+srv.URL+"/\n"), 0o600))

	out, err := execute(t, "--config", cfg, "all", "--domains-file", domains, "--max-pages", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "crawled 1 pages")
	assert.Contains(t, out, "invalid")
	assert.NotContains(t, out, "INVALID")
}
