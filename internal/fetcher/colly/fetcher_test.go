package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanalot/swimmer-elo/internal/fetcher"
)

func TestFetcherReturnsStatusCodes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/swimmer/1/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "swim-agent", r.UserAgent())
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	})
	mux.HandleFunc("/swimmer/2/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/swimmer/3/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "swim-agent", Timeout: 2 * time.Second})
	ctx := context.Background()

	resp, err := f.Fetch(ctx, srv.URL+"/swimmer/1/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "ok")

	// Revisiting the same URL must reach the server again.
	resp, err = f.Fetch(ctx, srv.URL+"/swimmer/1/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.Fetch(ctx, srv.URL+"/swimmer/2/")
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, err = f.Fetch(ctx, srv.URL+"/swimmer/3/")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = f.Fetch(ctx, srv.URL+"/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetcherNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), addr+"/swimmer/1/")
	require.Error(t, err)
}

func TestFetcherCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcherConcurrentFetches(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "swim-agent", Timeout: 2 * time.Second})
	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/swimmer/" + string(rune('a'+i)) + "/"
			resp, err := f.Fetch(context.Background(), srv.URL+path)
			if err != nil {
				errs <- err
				return
			}
			if resp.StatusCode != http.StatusOK || string(resp.Body) != path {
				errs <- errors.New("unexpected response for " + path + ": " + string(resp.Body))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestFetcherCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(aborted)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	f := New(Config{Timeout: 30 * time.Second})
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, srv.URL)
		errCh <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("request still in flight after cancel")
	}
}

func TestFetcherTimeoutDefault(t *testing.T) {
	t.Parallel()

	require.Equal(t, 10*time.Second, New(Config{}).timeout())
	require.Equal(t, time.Second, New(Config{Timeout: time.Second}).timeout())
}

func TestNewWithCloudflareBypass(t *testing.T) {
	t.Parallel()

	f := New(Config{CloudflareBypass: true})
	require.NotNil(t, f.baseCollector)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{URL: mustParseURL(t, "https://example.com/swimmer/9/")}
	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body"), Request: req})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden, Request: req}, errors.New("Forbidden"))
	require.Equal(t, http.StatusForbidden, result.StatusCode)
	require.NoError(t, fetchErr)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
