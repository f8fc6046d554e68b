package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/corpus-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive", "shards")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Nested", func(t *testing.T) {
		body := "{\"id\":\"a\"}\n{\"id\":\"b\"}\n"
		uri, err := store.PutObject(ctx, "2024/03/shard.jsonl", "application/x-ndjson", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "2024/03/shard.jsonl"), uri)

		got, err := os.ReadFile(filepath.Join(dir, "2024/03/shard.jsonl"))
		require.NoError(t, err)
		assert.Equal(t, body, string(got))

		leftovers, err := filepath.Glob(filepath.Join(dir, "2024/03/.upload-*"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../outside.jsonl", "", strings.NewReader("x"))
		assert.Error(t, err)
	})
}
