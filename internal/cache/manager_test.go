package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newShellServer(t *testing.T, failPath string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == failPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Set-Cookie", "session=1")
		_, _ = w.Write([]byte("asset:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, store Store, srv *httptest.Server, version int) *Manager {
	t.Helper()
	mgr, err := NewManager(ManagerOptions{
		Store:       store,
		Client:      srv.Client(),
		Version:     version,
		Members:     []string{srv.URL + "/", srv.URL + "/offline.html", srv.URL + "/assets/css/style.css"},
		OfflinePage: srv.URL + "/offline.html",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func TestManagerInstallStoresEveryMember(t *testing.T) {
	srv := newShellServer(t, "")
	store := newTestStore(t)
	mgr := newTestManager(t, store, srv, 1)
	ctx := context.Background()

	if mgr.Installed(ctx) {
		t.Fatalf("fresh store must not report installed")
	}
	if err := mgr.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	if !mgr.Installed(ctx) {
		t.Fatalf("expected installed after install")
	}

	result, err := mgr.OfflinePage(ctx)
	if err != nil {
		t.Fatalf("offline page: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "asset:/offline.html" {
		t.Fatalf("unexpected offline body %q", body)
	}
	if result.Entry.Header.Get("Set-Cookie") != "" {
		t.Fatalf("set-cookie must not be stored")
	}
}

func TestManagerInstallIsAllOrNothing(t *testing.T) {
	srv := newShellServer(t, "/assets/css/style.css")
	store := newTestStore(t)
	mgr := newTestManager(t, store, srv, 1)
	ctx := context.Background()

	if err := mgr.Install(ctx); err == nil {
		t.Fatalf("expected install failure")
	}
	if _, err := mgr.MatchIn(ctx, BucketAppShell, srv.URL+"/"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no member may be stored after failed install, got %v", err)
	}
	names, err := store.Namespaces(ctx)
	if err != nil {
		t.Fatalf("namespaces: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected empty store, got %v", names)
	}
}

func TestManagerActivateRemovesStaleVersions(t *testing.T) {
	srv := newShellServer(t, "")
	store := newTestStore(t)
	ctx := context.Background()

	v1 := newTestManager(t, store, srv, 1)
	if err := v1.Install(ctx); err != nil {
		t.Fatalf("install v1: %v", err)
	}
	if err := v1.Put(ctx, BucketData, srv.URL+"/api/get-products.php", http.StatusOK, nil, []byte("[]")); err != nil {
		t.Fatalf("put data v1: %v", err)
	}
	// 非网关管理的目录必须保留。
	if err := os.MkdirAll(filepath.Join(store.(*fileStore).basePath, "other-v1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	v2 := newTestManager(t, store, srv, 2)
	if err := v2.Install(ctx); err != nil {
		t.Fatalf("install v2: %v", err)
	}
	deleted, err := v2.Activate(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected two stale namespaces, got %v", deleted)
	}

	names, _ := store.Namespaces(ctx)
	want := map[string]bool{"app-shell-v2": true, "other-v1": true}
	if len(names) != len(want) {
		t.Fatalf("unexpected namespaces %v", names)
	}
	for _, name := range names {
		if !want[name] {
			t.Fatalf("unexpected namespace %s left after activation", name)
		}
	}
}

func TestManagerMatchPrefersAppShell(t *testing.T) {
	srv := newShellServer(t, "")
	store := newTestStore(t)
	mgr := newTestManager(t, store, srv, 1)
	ctx := context.Background()
	target := srv.URL + "/assets/css/style.css"

	if err := mgr.Put(ctx, BucketData, target, http.StatusOK, nil, []byte("from-data")); err != nil {
		t.Fatalf("put data: %v", err)
	}
	if err := mgr.Put(ctx, BucketAppShell, target, http.StatusOK, nil, []byte("from-shell")); err != nil {
		t.Fatalf("put shell: %v", err)
	}

	result, err := mgr.Match(ctx, target)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "from-shell" {
		t.Fatalf("expected app-shell copy first, got %q", body)
	}

	if _, err := mgr.Match(ctx, srv.URL+"/nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerClearAll(t *testing.T) {
	srv := newShellServer(t, "")
	store := newTestStore(t)
	mgr := newTestManager(t, store, srv, 1)
	ctx := context.Background()
	if err := mgr.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}

	cleared, err := mgr.ClearAll(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(cleared) != 1 || cleared[0] != "app-shell-v1" {
		t.Fatalf("unexpected cleared list %v", cleared)
	}
	if mgr.Installed(ctx) {
		t.Fatalf("expected not installed after clear")
	}
}

func TestParseNamespace(t *testing.T) {
	cases := []struct {
		name    string
		bucket  string
		version int
		ok      bool
	}{
		{"app-shell-v3", "app-shell", 3, true},
		{"data-v1", "data", 1, true},
		{"data-v0", "", 0, false},
		{"data", "", 0, false},
		{"data-vx", "", 0, false},
	}
	for _, tc := range cases {
		ns, ok := ParseNamespace(tc.name)
		if ok != tc.ok {
			t.Fatalf("%s: expected ok=%v", tc.name, tc.ok)
		}
		if ok && (ns.Bucket != tc.bucket || ns.Version != tc.version) {
			t.Fatalf("%s: unexpected parse %+v", tc.name, ns)
		}
	}
}
