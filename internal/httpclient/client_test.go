package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = r.Header.Clone()
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(Config{Timeout: time.Second, MaxRedirects: 2, UserAgent: "journal-crawler/test"})
	res, err := client.Do(context.Background(), Request{
		URL:    srv.URL + "/thing",
		Header: http.Header{"X-Trace-Tag": {"yes"}},
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, http.StatusOK, res.Status)
	require.JSONEq(t, `{"ok":true}`, res.Text())
	require.Equal(t, srv.URL+"/thing", res.FinalURL)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "journal-crawler/test", seen.Get("User-Agent"))
	require.Equal(t, "yes", seen.Get("X-Trace-Tag"))
}

func TestDoReportsNon2xxWithoutError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	res, err := New(Config{}).Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, http.StatusTooManyRequests, res.Status)
	require.Equal(t, "slow down", res.Text())
}

func TestDoFollowsRelativeRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("landed"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(Config{MaxRedirects: 2}).Do(context.Background(), Request{URL: srv.URL + "/a"})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "landed", res.Text())
	require.Equal(t, srv.URL+"/c", res.FinalURL)
}

func TestDoStopsAtRedirectBound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	_, err := New(Config{MaxRedirects: 3}).Do(context.Background(), Request{URL: srv.URL + "/loop"})
	require.ErrorIs(t, err, ErrTooManyRedirects)
	require.Equal(t, int32(4), hits.Load())
}

func TestDoZeroRedirectBudget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	res, err := New(Config{MaxRedirects: 0}).Do(context.Background(), Request{URL: srv.URL})
	require.ErrorIs(t, err, ErrTooManyRedirects)
	require.Equal(t, http.StatusFound, res.Status)
}

func TestDoSeeOtherDowngradesPostToGet(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		methods []string
		posted  string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		methods = append(methods, r.Method)
		posted = string(body)
		mu.Unlock()
		http.Redirect(w, r, "/result", http.StatusSeeOther)
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		_, _ = w.Write([]byte("done"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(Config{MaxRedirects: 1}).Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/submit",
		Body:   []byte("query"),
	})
	require.NoError(t, err)
	require.Equal(t, "done", res.Text())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{http.MethodPost, http.MethodGet}, methods)
	require.Equal(t, "query", posted)
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Do(ctx, Request{URL: srv.URL})
	require.Error(t, err)
}

func TestDoRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	hosts := make(chan string, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts <- r.Host
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	client := New(Config{})
	res, err := client.Do(context.Background(), Request{
		URL:   "http://upstream.example/journals",
		Proxy: proxy.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "via proxy", res.Text())
	require.Equal(t, "upstream.example", <-hosts)

	_, err = client.Do(context.Background(), Request{URL: "http://upstream.example", Proxy: "::bad"})
	require.Error(t, err)
}
