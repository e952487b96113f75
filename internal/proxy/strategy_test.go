package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
)

const offlinePath = "/offline.html"

type upstreamStub struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newUpstreamStub(t *testing.T, handler http.HandlerFunc) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

// deadURL 返回一个已关闭端口的地址，访问时产生传输层错误。
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	return addr
}

func newTestCache(t *testing.T, offlineURL string) *cache.Manager {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mgr, err := cache.NewManager(cache.ManagerOptions{
		Store:       store,
		Client:      http.DefaultClient,
		Version:     1,
		OfflinePage: offlineURL,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func newGet(t *testing.T, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target, http.NoBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func readOutcome(t *testing.T, outcome *Outcome) string {
	t.Helper()
	defer outcome.Close()
	body, err := io.ReadAll(outcome.Body)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	return string(body)
}

func TestCacheFirstServesHitWithoutNetwork(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("network"))
	})
	store := newTestCache(t, "")
	target := stub.server.URL + "/assets/css/style.css"
	if err := store.Put(context.Background(), cache.BucketAppShell, target, http.StatusOK,
		http.Header{"Content-Type": []string{"text/css"}}, []byte("cached")); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	s := NewStrategies(stub.server.Client(), store, nil)
	outcome, err := s.CacheFirst(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("cache first: %v", err)
	}
	if got := outcome.Header.Get(HeaderOfflineCache); got != CacheHit {
		t.Fatalf("expected hit header, got %q", got)
	}
	if body := readOutcome(t, outcome); body != "cached" {
		t.Fatalf("unexpected body %q", body)
	}
	if stub.hits.Load() != 0 {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestCacheFirstMissStoresIntoAppShell(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	})
	store := newTestCache(t, "")
	target := stub.server.URL + "/assets/images/logo.png"
	s := NewStrategies(stub.server.Client(), store, nil)

	outcome, err := s.CacheFirst(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("cache first: %v", err)
	}
	if outcome.Cache != CacheMiss {
		t.Fatalf("expected miss, got %q", outcome.Cache)
	}
	if body := readOutcome(t, outcome); body != "png" {
		t.Fatalf("unexpected body %q", body)
	}

	result, err := store.MatchIn(context.Background(), cache.BucketAppShell, target)
	if err != nil {
		t.Fatalf("expected stored copy: %v", err)
	}
	result.Reader.Close()
	if _, err := store.MatchIn(context.Background(), cache.BucketData, target); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("cache-first must not write data bucket, got %v", err)
	}
}

func TestCacheFirstDoesNotStoreErrorStatus(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	store := newTestCache(t, "")
	target := stub.server.URL + "/assets/missing.js"
	s := NewStrategies(stub.server.Client(), store, nil)

	outcome, err := s.CacheFirst(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("cache first: %v", err)
	}
	outcome.Close()
	if outcome.Status != http.StatusNotFound {
		t.Fatalf("expected upstream status passthrough, got %d", outcome.Status)
	}
	if _, err := store.Match(context.Background(), target); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("404 must not be cached, got %v", err)
	}
}

func TestCacheFirstFallsBackToOfflinePage(t *testing.T) {
	base := deadURL(t)
	store := newTestCache(t, base+offlinePath)
	if err := store.Put(context.Background(), cache.BucketAppShell, base+offlinePath, http.StatusOK, nil, []byte("<h1>offline</h1>")); err != nil {
		t.Fatalf("seed offline page: %v", err)
	}
	s := NewStrategies(http.DefaultClient, store, nil)

	outcome, err := s.CacheFirst(context.Background(), newGet(t, base+"/assets/js/app.js"))
	if err != nil {
		t.Fatalf("expected offline page, got %v", err)
	}
	if outcome.Cache != CacheOffline {
		t.Fatalf("expected offline page state, got %q", outcome.Cache)
	}
	if ct := outcome.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if body := readOutcome(t, outcome); body != "<h1>offline</h1>" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestCacheFirstOfflineWithoutFallback(t *testing.T) {
	base := deadURL(t)
	s := NewStrategies(http.DefaultClient, newTestCache(t, base+offlinePath), nil)

	_, err := s.CacheFirst(context.Background(), newGet(t, base+"/assets/js/app.js"))
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestNetworkFallbackStoresAndServesStale(t *testing.T) {
	var offline atomic.Bool
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		if offline.Load() {
			// 劫持连接后直接关闭，模拟传输层失败。
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})
	store := newTestCache(t, "")
	target := stub.server.URL + "/api/get-products.php?category=2"
	s := NewStrategies(stub.server.Client(), store, nil)

	first, err := s.NetworkFallback(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("network fallback online: %v", err)
	}
	if body := readOutcome(t, first); body != `[{"id":1}]` {
		t.Fatalf("unexpected body %q", body)
	}
	if first.Header.Get(HeaderOfflineCache) != "" {
		t.Fatalf("fresh response must not be marked")
	}

	offline.Store(true)
	second, err := s.NetworkFallback(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("expected stale copy, got %v", err)
	}
	if got := second.Header.Get(HeaderOfflineCache); got != CacheStale {
		t.Fatalf("expected stale header, got %q", got)
	}
	if _, ok := cachedAt(second.Header); !ok {
		t.Fatalf("expected %s header", HeaderOfflineCachedAt)
	}
	if body := readOutcome(t, second); body != `[{"id":1}]` {
		t.Fatalf("unexpected stale body %q", body)
	}
}

func TestNetworkFallbackWithoutCopyReturnsUpstreamError(t *testing.T) {
	base := deadURL(t)
	s := NewStrategies(http.DefaultClient, newTestCache(t, ""), nil)

	_, err := s.NetworkFallback(context.Background(), newGet(t, base+"/api/get-categories.php"))
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestNetworkFallbackPassesServerErrors(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestCache(t, "")
	target := stub.server.URL + "/api/get-categories.php"
	if err := store.Put(context.Background(), cache.BucketData, target, http.StatusOK, nil, []byte("old")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := NewStrategies(stub.server.Client(), store, nil)

	outcome, err := s.NetworkFallback(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome.Close()
	if outcome.Status != http.StatusInternalServerError {
		t.Fatalf("5xx is not a network failure, got %d", outcome.Status)
	}
}

func TestNetworkOnlyNavigationGetsOfflinePage(t *testing.T) {
	base := deadURL(t)
	store := newTestCache(t, base+offlinePath)
	if err := store.Put(context.Background(), cache.BucketAppShell, base+offlinePath, http.StatusOK,
		http.Header{"Content-Type": []string{"text/html"}}, []byte("offline")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := NewStrategies(http.DefaultClient, store, nil)

	nav := newGet(t, base+"/orders.php")
	nav.Header.Set("Accept", "text/html,application/xhtml+xml")
	outcome, err := s.NetworkOnly(context.Background(), nav)
	if err != nil {
		t.Fatalf("expected offline page for navigation, got %v", err)
	}
	if body := readOutcome(t, outcome); body != "offline" {
		t.Fatalf("unexpected body %q", body)
	}

	xhr := newGet(t, base+"/api/get-session.php")
	xhr.Header.Set("Accept", "application/json")
	if _, err := s.NetworkOnly(context.Background(), xhr); err == nil {
		t.Fatalf("non-navigation request must fail")
	}
}

func TestNetworkOnlyNeverStores(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("live"))
	})
	store := newTestCache(t, "")
	target := stub.server.URL + "/index.php"
	s := NewStrategies(stub.server.Client(), store, nil)

	outcome, err := s.NetworkOnly(context.Background(), newGet(t, target))
	if err != nil {
		t.Fatalf("network only: %v", err)
	}
	if body := readOutcome(t, outcome); body != "live" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := store.Match(context.Background(), target); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("network-only must not store, got %v", err)
	}
}
