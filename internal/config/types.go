package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述网关进程级别的运行参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// CacheConfig 描述缓存命名空间版本与各类 URL 清单。
type CacheConfig struct {
	// Version 对应命名空间名称中的 v<N>，每次发版递增即可淘汰旧缓存。
	Version int `mapstructure:"CacheVersion"`
	// OfflinePage 是网络与缓存都不可用时返回的兜底页面路径。
	OfflinePage string `mapstructure:"OfflinePage"`
	// AppShell 列出安装阶段预取的静态路径（相对 Upstream）。
	AppShell []string `mapstructure:"AppShell"`
	// ThirdPartyAssets 是安装阶段一并预取的第三方静态资源绝对 URL。
	ThirdPartyAssets []string `mapstructure:"ThirdPartyAssets"`
	// CacheableEndpoints 是允许网络失败时回退缓存的参考数据接口片段。
	CacheableEndpoints []string `mapstructure:"CacheableEndpoints"`
	DynamicExtensions  []string `mapstructure:"DynamicExtensions"`
	StaticExtensions   []string `mapstructure:"StaticExtensions"`
}

// SyncConfig 控制离线队列的回放节奏。
type SyncConfig struct {
	AutoActivate      bool     `mapstructure:"AutoActivate"`
	SyncInterval      Duration `mapstructure:"SyncInterval"`
	ReplayTimeout     Duration `mapstructure:"ReplayTimeout"`
	MaxReplayAttempts int      `mapstructure:"MaxReplayAttempts"`
	PingPath          string   `mapstructure:"PingPath"`
}

// DomainConfig 声明一个业务域分区：哪些关键写接口归它所有，以及回放目标。
type DomainConfig struct {
	Name        string   `mapstructure:"Name"`
	Description string   `mapstructure:"Description"`
	Match       []string `mapstructure:"Match"`
	// Endpoint 为空时回放到入队时记录的原始 URL。
	Endpoint string `mapstructure:"Endpoint"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Cache   CacheConfig    `mapstructure:",squash"`
	Sync    SyncConfig     `mapstructure:",squash"`
	Domains []DomainConfig `mapstructure:"Domain"`
}

// DomainNames 返回所有业务域名称，按配置顺序排列，供日志字段使用。
func DomainNames(domains []DomainConfig) []string {
	if len(domains) == 0 {
		return nil
	}
	result := make([]string, len(domains))
	for i, d := range domains {
		result[i] = d.Name
	}
	return result
}

// CriticalEndpoints 汇总所有业务域声明的关键写接口片段。
func (c *Config) CriticalEndpoints() []string {
	var result []string
	for _, d := range c.Domains {
		result = append(result, d.Match...)
	}
	return result
}
