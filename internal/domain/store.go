package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// TagPrefix 是单个业务域 sync 标签的前缀。
	TagPrefix = "sync-"
	// TagAll 触发全部业务域的回放。
	TagAll = "sync-all"
	// AllName 保留给 TagAll，业务域不得使用。
	AllName = "all"
)

// ErrUnknownTag 表示 sync 标签格式错误或指向未注册的业务域。
var ErrUnknownTag = errors.New("unknown sync tag")

// Store 是一个业务域分区。
type Store struct {
	Name        string
	Description string
	// Match 为关键写接口的路径片段，按子串匹配请求路径。
	Match []string
	// Endpoint 覆盖回放目标；为空时使用入队时记录的原始 URL。
	// 以 "/" 开头时相对 Upstream 解析。
	Endpoint string
}

// SyncTag 返回该业务域的后台同步标签。
func (s Store) SyncTag() string {
	return TagPrefix + s.Name
}

// Matches 判断请求路径是否命中该业务域的任一关键写接口。
func (s Store) Matches(path string) bool {
	for _, fragment := range s.Match {
		if fragment != "" && strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

// ReplayURL 计算回放目标地址。
func (s Store) ReplayURL(upstream, stored string) string {
	switch {
	case s.Endpoint == "":
		return stored
	case strings.HasPrefix(s.Endpoint, "/"):
		return strings.TrimSuffix(upstream, "/") + s.Endpoint
	default:
		return s.Endpoint
	}
}

// ParseTag 解析 sync 标签。sync-all 返回 all=true；其余返回业务域名称。
func ParseTag(tag string) (name string, all bool, err error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == TagAll {
		return "", true, nil
	}
	if !strings.HasPrefix(tag, TagPrefix) || len(tag) == len(TagPrefix) {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return strings.TrimPrefix(tag, TagPrefix), false, nil
}
