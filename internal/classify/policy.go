package classify

// Policy 是分类器为一次请求选定的处理策略。
type Policy int

const (
	// PolicyNetworkOnly 直连网络，无缓存回退。
	PolicyNetworkOnly Policy = iota
	// PolicyDynamic 动态内容：网络优先，从不读取或写入缓存。
	PolicyDynamic
	// PolicyCacheFirst 缓存优先，未命中时回源并写入 app-shell。
	PolicyCacheFirst
	// PolicyNetworkFallback 网络优先，失败时返回 data 命名空间中的旧副本。
	PolicyNetworkFallback
	// PolicyCriticalWrite 关键写入，网络失败时进入离线队列。
	PolicyCriticalWrite
)

func (p Policy) String() string {
	switch p {
	case PolicyNetworkOnly:
		return "network-only"
	case PolicyDynamic:
		return "dynamic"
	case PolicyCacheFirst:
		return "cache-first"
	case PolicyNetworkFallback:
		return "network-fallback"
	case PolicyCriticalWrite:
		return "critical-write"
	default:
		return "unknown"
	}
}

// Decision 是分类结果。
type Decision struct {
	Policy Policy
	// Rule 是命中规则的名称，写入日志便于排查。
	Rule string
	// Domain 仅在 PolicyCriticalWrite 时非空。
	Domain string
}
