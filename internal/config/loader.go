package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectDomainTags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySyncDefaults(&cfg.Sync)
	if len(cfg.Domains) == 0 {
		cfg.Domains = DefaultDomains()
	}
	for i := range cfg.Domains {
		applyDomainDefaults(&cfg.Domains[i])
	}
	ensureOfflinePageInShell(&cfg.Cache)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")

	v.SetDefault("CacheVersion", 1)
	v.SetDefault("OfflinePage", "/offline.html")
	v.SetDefault("AppShell", defaultAppShell)
	v.SetDefault("ThirdPartyAssets", defaultThirdPartyAssets)
	v.SetDefault("CacheableEndpoints", defaultCacheableEndpoints)
	v.SetDefault("DynamicExtensions", defaultDynamicExtensions)
	v.SetDefault("StaticExtensions", defaultStaticExtensions)

	v.SetDefault("AutoActivate", true)
	v.SetDefault("SyncInterval", "30s")
	v.SetDefault("ReplayTimeout", "15s")
	v.SetDefault("MaxReplayAttempts", 0)
	v.SetDefault("PingPath", "/api/ping.php")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5080
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.Upstream = strings.TrimRight(strings.TrimSpace(g.Upstream), "/")
}

func applySyncDefaults(s *SyncConfig) {
	if s.SyncInterval.DurationValue() == 0 {
		s.SyncInterval = Duration(30 * time.Second)
	}
	if s.ReplayTimeout.DurationValue() == 0 {
		s.ReplayTimeout = Duration(15 * time.Second)
	}
	if s.PingPath == "" {
		s.PingPath = "/api/ping.php"
	}
}

func applyDomainDefaults(d *DomainConfig) {
	d.Name = strings.ToLower(strings.TrimSpace(d.Name))
	d.Endpoint = strings.TrimSpace(d.Endpoint)
	match := d.Match[:0]
	for _, fragment := range d.Match {
		if trimmed := strings.TrimSpace(fragment); trimmed != "" {
			match = append(match, trimmed)
		}
	}
	d.Match = match
}

// ensureOfflinePageInShell 保证兜底页面一定在安装清单里，否则离线时无页面可返回。
func ensureOfflinePageInShell(c *CacheConfig) {
	if c.OfflinePage == "" {
		return
	}
	for _, p := range c.AppShell {
		if p == c.OfflinePage {
			return
		}
	}
	c.AppShell = append(c.AppShell, c.OfflinePage)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectDomainTags 拒绝在 [[Domain]] 中手写 Tag：同步标签固定由 Name 推导为 sync-<name>。
func rejectDomainTags(v *viper.Viper) error {
	raw := v.Get("Domain")
	domains, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range domains {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		name := fmt.Sprintf("#%d", idx)
		for key, value := range m {
			if strings.EqualFold(key, "Name") {
				if s, ok := value.(string); ok && s != "" {
					name = s
				}
			}
		}
		for key := range m {
			if strings.EqualFold(key, "Tag") {
				return newFieldError(domainField(name, "Tag"), "字段不受支持，同步标签由 Name 推导")
			}
		}
	}

	return nil
}
