package server

import (
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
)

func newTestOrigins(t *testing.T) *OriginRegistry {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{Upstream: "http://pos.local/wapos/"},
		Cache: config.CacheConfig{ThirdPartyAssets: []string{
			"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css",
			"https://cdn.jsdelivr.net/npm/bootstrap-icons@1.11.0/font/bootstrap-icons.css",
		}},
	}
	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return registry
}

func TestResolvePrimaryKeepsBasePath(t *testing.T) {
	r := newTestOrigins(t)
	route := r.Resolve("localhost:5080", "/api/get-products.php", "page=2")
	if !route.Primary {
		t.Fatalf("expected primary route")
	}
	if got := route.Target.String(); got != "http://pos.local/wapos/api/get-products.php?page=2" {
		t.Fatalf("unexpected target %s", got)
	}
	if route.BareURL() != "http://pos.local/wapos/api/get-products.php" {
		t.Fatalf("unexpected bare url %s", route.BareURL())
	}
	if route.Path != "/api/get-products.php" {
		t.Fatalf("unexpected path %s", route.Path)
	}
}

func TestResolveThirdPartyHost(t *testing.T) {
	r := newTestOrigins(t)
	route := r.Resolve("CDN.jsdelivr.net", "/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css", "")
	if route.Primary {
		t.Fatalf("cdn host must not map to primary upstream")
	}
	if route.BareURL() != "https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" {
		t.Fatalf("unexpected third party url %s", route.BareURL())
	}
	if len(r.Hosts()) != 1 {
		t.Fatalf("duplicate asset hosts should collapse, got %v", r.Hosts())
	}
}

func TestResolveCleansTraversal(t *testing.T) {
	r := newTestOrigins(t)
	route := r.Resolve("", "/assets/../../etc/passwd", "")
	if route.Target.Path != "/wapos/etc/passwd" {
		t.Fatalf("unexpected cleaned path %s", route.Target.Path)
	}
	if got := r.Resolve("", "", "").Target.String(); got != "http://pos.local/wapos/" {
		t.Fatalf("root should map to upstream base, got %s", got)
	}
	if got := r.PrimaryURL("/offline.html"); got != "http://pos.local/wapos/offline.html" {
		t.Fatalf("unexpected primary url %s", got)
	}
}

func TestNewOriginRegistryRejectsBadUpstream(t *testing.T) {
	if _, err := NewOriginRegistry(&config.Config{Global: config.GlobalConfig{Upstream: "not a url"}}); err == nil {
		t.Fatalf("expected error for invalid upstream")
	}
	if _, err := NewOriginRegistry(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
