package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
)

// Route 描述一次请求解析出的上游目标，供代理层直接复用，避免重复拼接 URL。
type Route struct {
	// Origin 是命中的源站：主上游或某个第三方静态资源站点。
	Origin *url.URL
	// Target 是本次请求对应的上游绝对地址（含查询串），同时作为缓存键。
	Target *url.URL
	// Path 是网关收到的规范化请求路径，分类器基于它匹配规则。
	Path string
	// Primary 表示请求转发到配置的 Upstream。
	Primary bool
}

// BareURL 返回去掉查询串与片段的目标地址，用于匹配第三方资源清单。
func (r *Route) BareURL() string {
	if r == nil || r.Target == nil {
		return ""
	}
	u := *r.Target
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// OriginRegistry 提供 Host 到源站的查询能力：第三方资源所在主机映射到各自源站，
// 其余主机（包括网关自身）一律映射到主上游。
type OriginRegistry struct {
	primary    *url.URL
	thirdParty map[string]*url.URL
}

// NewOriginRegistry 根据配置构建映射。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	primary, err := url.Parse(strings.TrimSuffix(cfg.Global.Upstream, "/"))
	if err != nil || primary.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", cfg.Global.Upstream)
	}

	registry := &OriginRegistry{
		primary:    primary,
		thirdParty: make(map[string]*url.URL),
	}
	primaryHost, _ := normalizeHost(primary.Host)
	for _, raw := range cfg.Cache.ThirdPartyAssets {
		asset, err := url.Parse(raw)
		if err != nil || asset.Host == "" {
			return nil, fmt.Errorf("invalid third party asset %q", raw)
		}
		host, _ := normalizeHost(asset.Host)
		if host == primaryHost {
			continue
		}
		if _, exists := registry.thirdParty[host]; exists {
			continue
		}
		registry.thirdParty[host] = &url.URL{Scheme: asset.Scheme, Host: asset.Host}
	}
	return registry, nil
}

// Primary 返回主上游地址。
func (r *OriginRegistry) Primary() *url.URL {
	return r.primary
}

// PrimaryURL 将网关路径拼接到主上游（保留 Upstream 的基础路径）。
func (r *OriginRegistry) PrimaryURL(p string) string {
	return joinURL(r.primary, p, "").String()
}

// Resolve 根据 Host 头与请求路径计算上游目标。
func (r *OriginRegistry) Resolve(host, rawPath, rawQuery string) *Route {
	clean := cleanPath(rawPath)
	normalized, _ := normalizeHost(host)
	if origin, ok := r.thirdParty[normalized]; ok {
		return &Route{
			Origin: origin,
			Target: joinURL(origin, clean, rawQuery),
			Path:   clean,
		}
	}
	return &Route{
		Origin:  r.primary,
		Target:  joinURL(r.primary, clean, rawQuery),
		Path:    clean,
		Primary: true,
	}
}

// Hosts 返回第三方源站主机列表，用于 /-/status 输出。
func (r *OriginRegistry) Hosts() []string {
	hosts := make([]string, 0, len(r.thirdParty))
	for host := range r.thirdParty {
		hosts = append(hosts, host)
	}
	return hosts
}

func joinURL(base *url.URL, p, rawQuery string) *url.URL {
	u := *base
	joined := strings.TrimSuffix(base.Path, "/") + p
	if joined == "" {
		joined = "/"
	}
	u.Path = joined
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return &u
}

func cleanPath(raw string) string {
	if raw == "" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
