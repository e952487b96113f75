package classify

import (
	"net/http"
	"path"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/domain"
)

// 规则名称，出现在日志的 rule 字段中。
const (
	RuleDynamicCacheable = "dynamic-cacheable"
	RuleDynamic          = "dynamic"
	RuleAppShell         = "app-shell"
	RuleCacheableRead    = "cacheable-read"
	RuleCritical         = "critical"
	RuleStaticAsset      = "static-asset"
	RuleDefault          = "default"
	RuleCriticalWrite    = "critical-write"
	RulePassthrough      = "passthrough-write"
)

// Request 是分类所需的最小请求视图。
type Request struct {
	Method string
	// Path 是网关收到的请求路径（不含查询串）。
	Path string
	// URL 是解析后的上游绝对地址，用于匹配第三方资源。
	URL string
}

// Rule 是一条 "谓词 → 策略" 规则，按表中顺序求值，先命中者胜出。
type Rule struct {
	Name   string
	Match  func(Request) bool
	Policy Policy
}

// Options 汇总分类所需的各类清单。
type Options struct {
	AppShell           []string
	ThirdPartyAssets   []string
	CacheableEndpoints []string
	DynamicExtensions  []string
	StaticExtensions   []string
	Domains            *domain.Registry
}

// Classifier 按声明式规则表为请求分配策略。
type Classifier struct {
	rules   []Rule
	domains *domain.Registry
}

// FromConfig 使用配置清单与业务域注册表构建分类器。
func FromConfig(cfg *config.Config, domains *domain.Registry) *Classifier {
	return New(Options{
		AppShell:           cfg.Cache.AppShell,
		ThirdPartyAssets:   cfg.Cache.ThirdPartyAssets,
		CacheableEndpoints: cfg.Cache.CacheableEndpoints,
		DynamicExtensions:  cfg.Cache.DynamicExtensions,
		StaticExtensions:   cfg.Cache.StaticExtensions,
		Domains:            domains,
	})
}

// New 构建读请求规则表。新增一类接口只需要在表中追加一条规则。
func New(opts Options) *Classifier {
	domains := opts.Domains
	if domains == nil {
		domains = domain.NewRegistry()
	}

	shellPaths := toSet(opts.AppShell, false)
	shellURLs := toSet(opts.ThirdPartyAssets, false)
	dynamicExt := toSet(opts.DynamicExtensions, true)
	staticExt := toSet(opts.StaticExtensions, true)
	cacheable := append([]string(nil), opts.CacheableEndpoints...)

	isCacheable := func(r Request) bool { return containsAny(r.Path, cacheable) }
	isDynamic := func(r Request) bool {
		_, ok := dynamicExt[extension(r.Path)]
		return ok
	}

	// 动态脚本路径在 app-shell 规则之前定案，即使同时出现在 app-shell 清单中也不会走 cache-first。
	rules := []Rule{
		{
			Name:   RuleDynamicCacheable,
			Match:  func(r Request) bool { return isDynamic(r) && isCacheable(r) },
			Policy: PolicyNetworkFallback,
		},
		{
			Name:   RuleDynamic,
			Match:  isDynamic,
			Policy: PolicyDynamic,
		},
		{
			Name: RuleAppShell,
			Match: func(r Request) bool {
				if _, ok := shellPaths[normalizePath(r.Path)]; ok {
					return true
				}
				_, ok := shellURLs[r.URL]
				return ok
			},
			Policy: PolicyCacheFirst,
		},
		{
			Name:   RuleCacheableRead,
			Match:  isCacheable,
			Policy: PolicyNetworkFallback,
		},
		{
			Name: RuleCritical,
			Match: func(r Request) bool {
				_, ok := domains.Resolve(r.Path)
				return ok
			},
			Policy: PolicyNetworkOnly,
		},
		{
			Name: RuleStaticAsset,
			Match: func(r Request) bool {
				_, ok := staticExt[extension(r.Path)]
				return ok
			},
			Policy: PolicyCacheFirst,
		},
	}

	return &Classifier{rules: rules, domains: domains}
}

// Rules 返回读请求规则表的副本，供诊断接口展示。
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify 为请求选定策略。
func (c *Classifier) Classify(req Request) Decision {
	if !IsRead(req.Method) {
		if !IsMutation(req.Method) {
			return Decision{Policy: PolicyNetworkOnly, Rule: RulePassthrough}
		}
		if store, ok := c.domains.Resolve(req.Path); ok {
			return Decision{Policy: PolicyCriticalWrite, Rule: RuleCriticalWrite, Domain: store.Name}
		}
		return Decision{Policy: PolicyNetworkOnly, Rule: RulePassthrough}
	}
	for _, rule := range c.rules {
		if rule.Match(req) {
			return Decision{Policy: rule.Policy, Rule: rule.Name}
		}
	}
	return Decision{Policy: PolicyNetworkOnly, Rule: RuleDefault}
}

// IsRead 判断请求能否使用缓存策略，仅 GET 与 HEAD。
func IsRead(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, "":
		return true
	default:
		return false
	}
}

// IsMutation 判断请求是否会修改服务端数据。OPTIONS、TRACE 等既不读缓存也不入队。
func IsMutation(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func extension(p string) string {
	return strings.ToLower(path.Ext(p))
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func containsAny(p string, fragments []string) bool {
	for _, fragment := range fragments {
		if fragment != "" && strings.Contains(p, fragment) {
			return true
		}
	}
	return false
}

func toSet(values []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
