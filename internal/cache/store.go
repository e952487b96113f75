package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<root>/<namespace>/<host>/<path>.body    # 实际正文
//	<root>/<namespace>/<host>/<path>.meta    # 状态码、响应头、写入时间
//
// 带查询串的 URL 会在路径后追加 /__qs/<sha1>，避免不同参数互相覆盖。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 写入正文与元数据。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目，不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error

	// Namespaces 列出当前磁盘上存在的全部命名空间名称（按字典序）。
	Namespaces(ctx context.Context) ([]string, error)

	// DropNamespace 删除整个命名空间目录，不存在时视为成功。
	DropNamespace(ctx context.Context, name string) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	Status  int
	Header  http.Header
}

// Locator 唯一定位一个缓存条目（命名空间 + 绝对 URL）。
type Locator struct {
	Namespace string
	URL       string
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator     `json:"locator"`
	FilePath  string      `json:"file_path"`
	SizeBytes int64       `json:"size_bytes"`
	ModTime   time.Time   `json:"mod_time"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidNamespace 表示命名空间名称含有非法字符。
var ErrInvalidNamespace = errors.New("invalid cache namespace")
