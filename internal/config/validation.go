package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// 业务域名称会出现在同步标签与日志字段中，限制为小写字母、数字与连字符。
var domainNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := c.Cache.validate(); err != nil {
		return err
	}

	s := c.Sync
	if s.SyncInterval.DurationValue() <= 0 {
		return newFieldError("Sync.SyncInterval", "必须大于 0")
	}
	if s.ReplayTimeout.DurationValue() <= 0 {
		return newFieldError("Sync.ReplayTimeout", "必须大于 0")
	}
	if s.MaxReplayAttempts < 0 {
		return newFieldError("Sync.MaxReplayAttempts", "不能为负数")
	}
	if !strings.HasPrefix(s.PingPath, "/") {
		return newFieldError("Sync.PingPath", "必须以 / 开头")
	}

	if len(c.Domains) == 0 {
		return errors.New("至少需要配置一个业务域")
	}

	seenNames := map[string]struct{}{}
	seenMatch := map[string]string{}
	for i := range c.Domains {
		d := &c.Domains[i]
		if d.Name == "" {
			return newFieldError("Domain[].Name", "不能为空")
		}
		if d.Name == "all" || !domainNamePattern.MatchString(d.Name) {
			return newFieldError(domainField(d.Name, "Name"), "仅允许小写字母/数字/连字符，且不能为 all")
		}
		if _, exists := seenNames[d.Name]; exists {
			return newFieldError(domainField(d.Name, "Name"), "重复")
		}
		seenNames[d.Name] = struct{}{}

		if len(d.Match) == 0 {
			return newFieldError(domainField(d.Name, "Match"), "至少需要一个关键接口")
		}
		for _, fragment := range d.Match {
			if owner, exists := seenMatch[fragment]; exists {
				return newFieldError(domainField(d.Name, "Match"), fmt.Sprintf("%s 已归属 %s", fragment, owner))
			}
			seenMatch[fragment] = d.Name
		}
		if d.Endpoint != "" && !strings.HasPrefix(d.Endpoint, "/") {
			if err := validateUpstream(d.Endpoint); err != nil {
				return fmt.Errorf("%s: %w", domainField(d.Name, "Endpoint"), err)
			}
		}
	}

	return nil
}

func (c CacheConfig) validate() error {
	if c.Version <= 0 {
		return newFieldError("Cache.CacheVersion", "必须大于 0")
	}
	if c.OfflinePage != "" && !strings.HasPrefix(c.OfflinePage, "/") {
		return newFieldError("Cache.OfflinePage", "必须以 / 开头")
	}
	for _, p := range c.AppShell {
		if !strings.HasPrefix(p, "/") {
			return newFieldError("Cache.AppShell", fmt.Sprintf("路径必须以 / 开头: %s", p))
		}
	}
	for _, raw := range c.ThirdPartyAssets {
		if err := validateUpstream(raw); err != nil {
			return fmt.Errorf("Cache.ThirdPartyAssets: %w", err)
		}
	}
	for _, ext := range append(append([]string(nil), c.DynamicExtensions...), c.StaticExtensions...) {
		if !strings.HasPrefix(ext, ".") {
			return newFieldError("Cache.Extensions", fmt.Sprintf("扩展名必须以 . 开头: %s", ext))
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
