package classify

import (
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/domain"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	reg, err := domain.FromConfig(config.DefaultDomains())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if err := reg.Register(domain.Store{Name: "tickets", Match: []string{"/sync/tickets"}}); err != nil {
		t.Fatalf("register tickets: %v", err)
	}
	return New(Options{
		// dashboard.php 故意同时出现在 app-shell 中。
		AppShell:           []string{"/", "/offline.html", "/assets/css/style.css", "/api/dashboard.php"},
		ThirdPartyAssets:   []string{"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css"},
		CacheableEndpoints: []string{"/api/get-products.php", "/api/get-customers.php", "/api/catalog/"},
		DynamicExtensions:  []string{".php"},
		StaticExtensions:   []string{".css", ".js", ".png", ".woff2"},
		Domains:            reg,
	})
}

func TestClassifyReads(t *testing.T) {
	c := newTestClassifier(t)
	cases := []struct {
		name   string
		req    Request
		policy Policy
		rule   string
	}{
		{"root", Request{Method: "GET", Path: "/"}, PolicyCacheFirst, RuleAppShell},
		{"offline page", Request{Method: "GET", Path: "/offline.html"}, PolicyCacheFirst, RuleAppShell},
		{"dynamic wins over app shell", Request{Method: "GET", Path: "/api/dashboard.php"}, PolicyDynamic, RuleDynamic},
		{"dynamic uppercase ext", Request{Method: "GET", Path: "/reports/Daily.PHP"}, PolicyDynamic, RuleDynamic},
		{"third party asset", Request{Method: "GET", Path: "/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css", URL: "https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css"}, PolicyCacheFirst, RuleAppShell},
		{"reference data", Request{Method: "GET", Path: "/api/get-products.php"}, PolicyNetworkFallback, RuleDynamicCacheable},
		{"reference data without script ext", Request{Method: "GET", Path: "/api/catalog/products"}, PolicyNetworkFallback, RuleCacheableRead},
		{"reference data under prefix", Request{Method: "GET", Path: "/wapos/api/get-customers.php"}, PolicyNetworkFallback, RuleDynamicCacheable},
		{"critical read", Request{Method: "GET", Path: "/sync/tickets"}, PolicyNetworkOnly, RuleCritical},
		{"critical php read is dynamic", Request{Method: "GET", Path: "/api/complete-sale.php"}, PolicyDynamic, RuleDynamic},
		{"static script", Request{Method: "GET", Path: "/assets/js/app.js"}, PolicyCacheFirst, RuleStaticAsset},
		{"static font", Request{Method: "HEAD", Path: "/fonts/x.woff2"}, PolicyCacheFirst, RuleStaticAsset},
		{"default", Request{Method: "GET", Path: "/reports"}, PolicyNetworkOnly, RuleDefault},
	}
	for _, tc := range cases {
		got := c.Classify(tc.req)
		if got.Policy != tc.policy || got.Rule != tc.rule {
			t.Fatalf("%s: expected %s/%s, got %s/%s", tc.name, tc.policy, tc.rule, got.Policy, got.Rule)
		}
		if got.Domain != "" {
			t.Fatalf("%s: reads must not carry a domain", tc.name)
		}
	}
}

func TestClassifyWrites(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify(Request{Method: "POST", Path: "/api/complete-sale.php"})
	if got.Policy != PolicyCriticalWrite || got.Domain != "sales" {
		t.Fatalf("expected critical write for sales, got %+v", got)
	}
	got = c.Classify(Request{Method: "PUT", Path: "/pos/api/update-stock.php"})
	if got.Policy != PolicyCriticalWrite || got.Domain != "inventory" {
		t.Fatalf("expected critical write for inventory, got %+v", got)
	}
	got = c.Classify(Request{Method: "POST", Path: "/api/get-products.php"})
	if got.Policy != PolicyNetworkOnly || got.Rule != RulePassthrough {
		t.Fatalf("non critical writes must pass through, got %+v", got)
	}
	got = c.Classify(Request{Method: "DELETE", Path: "/assets/css/style.css"})
	if got.Policy != PolicyNetworkOnly {
		t.Fatalf("writes never use cache policies, got %+v", got)
	}
}

func TestDynamicNeverCacheFirst(t *testing.T) {
	c := newTestClassifier(t)
	for _, p := range []string{"/api/dashboard.php", "/index.php", "/assets/css/style.php"} {
		if got := c.Classify(Request{Method: "GET", Path: p}); got.Policy == PolicyCacheFirst {
			t.Fatalf("%s must never be cache-first", p)
		}
	}

	// 同一路径同时出现在 app-shell、静态资源与可缓存接口清单中。
	overlap := New(Options{
		AppShell:           []string{"/", "/api/get-settings.php"},
		CacheableEndpoints: []string{"/api/get-settings.php"},
		DynamicExtensions:  []string{".php"},
		StaticExtensions:   []string{".php"},
	})
	got := overlap.Classify(Request{Method: "GET", Path: "/api/get-settings.php"})
	if got.Policy != PolicyNetworkFallback || got.Rule != RuleDynamicCacheable {
		t.Fatalf("cacheable script must be network-fallback, got %s/%s", got.Policy, got.Rule)
	}
	got = overlap.Classify(Request{Method: "HEAD", Path: "/api/get-settings.php"})
	if got.Policy == PolicyCacheFirst {
		t.Fatalf("HEAD on a script path must never be cache-first")
	}
}

func TestOptionsNeverUsesCacheOrQueue(t *testing.T) {
	c := newTestClassifier(t)
	for _, p := range []string{"/assets/css/style.css", "/", "/api/get-products.php", "/api/complete-sale.php"} {
		got := c.Classify(Request{Method: "OPTIONS", Path: p})
		if got.Policy != PolicyNetworkOnly || got.Rule != RulePassthrough || got.Domain != "" {
			t.Fatalf("OPTIONS %s must pass through, got %+v", p, got)
		}
	}
	if IsRead("OPTIONS") || IsMutation("OPTIONS") {
		t.Fatalf("OPTIONS is neither a cache read nor a mutation")
	}
}

func TestRulesAreOrdered(t *testing.T) {
	rules := newTestClassifier(t).Rules()
	want := []string{RuleDynamicCacheable, RuleDynamic, RuleAppShell, RuleCacheableRead, RuleCritical, RuleStaticAsset}
	if len(rules) != len(want) {
		t.Fatalf("unexpected rule count %d", len(rules))
	}
	for i, name := range want {
		if rules[i].Name != name {
			t.Fatalf("rule %d: expected %s, got %s", i, name, rules[i].Name)
		}
	}
}

func TestPolicyString(t *testing.T) {
	if PolicyNetworkFallback.String() != "network-fallback" || Policy(99).String() != "unknown" {
		t.Fatalf("unexpected policy names")
	}
}
