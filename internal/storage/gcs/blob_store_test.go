package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := Open(context.Background(), cfg, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/exports-bucket/o")
		assert.Equal(t, "elo/swimmers.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `[{"id":"1"}]`)
		assert.Contains(t, string(body), "application/json")
		fmt.Fprintln(w, `{"name": "elo/swimmers.json", "bucket": "exports-bucket"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "exports-bucket", Prefix: "/elo/"})

	uri, err := store.PutObject(context.Background(), "swimmers.json", "application/json", strings.NewReader(`[{"id":"1"}]`))
	require.NoError(t, err)
	assert.Equal(t, "gs://exports-bucket/elo/swimmers.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "b"})

	_, err := store.PutObject(context.Background(), "swimmers.json", "", strings.NewReader("[]"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	store := newTestStore(t, http.NotFoundHandler(), Config{Bucket: "b"})
	_, err = New(store.client, Config{})
	require.ErrorContains(t, err, "bucket name is required")

	_, err = store.PutObject(context.Background(), "/", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")
}
