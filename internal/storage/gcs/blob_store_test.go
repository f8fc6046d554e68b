package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func dialTest(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	bs, err := Dial(context.Background(), cfg, option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return bs
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	var (
		mu   sync.Mutex
		name string
		body string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		name = r.URL.Query().Get("name")
		body = string(raw)
		mu.Unlock()
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/corpus-bucket/o")
		fmt.Fprintln(w, `{"name":"`+r.URL.Query().Get("name")+`","bucket":"corpus-bucket"}`)
	})
	bs := dialTest(t, handler, Config{Bucket: "corpus-bucket", Prefix: "/shards/"})

	uri, err := bs.PutObject(context.Background(), "life_tips_1.jsonl", "application/x-ndjson", strings.NewReader(`{"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://corpus-bucket/shards/life_tips_1.jsonl", uri)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "shards/life_tips_1.jsonl", name)
	assert.Contains(t, body, `{"id":"x"}`)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	bs := dialTest(t, handler, Config{Bucket: "corpus-bucket"})
	_, err := bs.PutObject(context.Background(), "a.jsonl", "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	bs := dialTest(t, http.NotFoundHandler(), Config{Bucket: "b"})
	_, err = New(bs.client, Config{})
	assert.Error(t, err)

	_, err = bs.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	assert.Error(t, err)
}
