package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// 已知的缓存桶。激活时只清理这两个前缀下的旧版本，其它目录原样保留。
const (
	BucketAppShell = "app-shell"
	BucketData     = "data"
)

// KnownBuckets 返回参与版本淘汰的桶列表。
func KnownBuckets() []string {
	return []string{BucketAppShell, BucketData}
}

// Namespace 是 <bucket>-v<N> 形式的缓存命名空间。
type Namespace struct {
	Bucket  string
	Version int
}

// Name 输出磁盘目录名，例如 app-shell-v3。
func (n Namespace) Name() string {
	return fmt.Sprintf("%s-v%d", n.Bucket, n.Version)
}

// ParseNamespace 解析目录名；格式不符或版本号非法时返回 false。
func ParseNamespace(name string) (Namespace, bool) {
	idx := strings.LastIndex(name, "-v")
	if idx <= 0 {
		return Namespace{}, false
	}
	version, err := strconv.Atoi(name[idx+2:])
	if err != nil || version <= 0 {
		return Namespace{}, false
	}
	return Namespace{Bucket: name[:idx], Version: version}, true
}

// isKnownBucket 判断桶名是否属于网关自己管理的缓存。
func isKnownBucket(bucket string) bool {
	for _, known := range KnownBuckets() {
		if bucket == known {
			return true
		}
	}
	return false
}
