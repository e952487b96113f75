package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "app-shell-v1", URL: "http://pos.local/wapos/assets/images/logo.png"}

	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("payload")
	header := http.Header{"Content-Type": []string{"image/png"}}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime, Header: header}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	if result.Entry.Status != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", result.Entry.Status)
	}
	if got := result.Entry.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("content type not preserved: %q", got)
	}
}

func TestStoreSeparatesQueryStrings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := Locator{Namespace: "data-v1", URL: "http://pos.local/api/get-products.php?page=1"}
	b := Locator{Namespace: "data-v1", URL: "http://pos.local/api/get-products.php?page=2"}
	if _, err := store.Put(ctx, a, bytes.NewReader([]byte("one")), PutOptions{}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := store.Put(ctx, b, bytes.NewReader([]byte("two")), PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}

	result, err := store.Get(ctx, a)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "one" {
		t.Fatalf("query variants must not overwrite each other, got %q", body)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Namespace: "data-v1", URL: "http://pos.local/missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "data-v1", URL: "http://pos.local/cache/remove"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "data-v1", URL: "http://pos.local/api"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath+bodySuffix, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRejectsRelativeURLAndBadNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, Locator{Namespace: "data-v1", URL: "/relative"}, bytes.NewReader(nil), PutOptions{}); err == nil {
		t.Fatalf("relative url must be rejected")
	}
	if err := store.DropNamespace(ctx, "../etc"); !errors.Is(err, ErrInvalidNamespace) {
		t.Fatalf("expected ErrInvalidNamespace, got %v", err)
	}
}

func TestStoreNamespacesAndDrop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, ns := range []string{"data-v1", "app-shell-v1"} {
		loc := Locator{Namespace: ns, URL: "http://pos.local/x"}
		if _, err := store.Put(ctx, loc, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", ns, err)
		}
	}

	names, err := store.Namespaces(ctx)
	if err != nil {
		t.Fatalf("namespaces: %v", err)
	}
	if len(names) != 2 || names[0] != "app-shell-v1" || names[1] != "data-v1" {
		t.Fatalf("unexpected namespaces %v", names)
	}

	if err := store.DropNamespace(ctx, "data-v1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	names, _ = store.Namespaces(ctx)
	if len(names) != 1 || names[0] != "app-shell-v1" {
		t.Fatalf("expected only app-shell-v1, got %v", names)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
