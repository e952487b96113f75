package queue

import (
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Mutation 是一条等待回放的关键写入。
type Mutation struct {
	ID         int64       `json:"id"`
	Domain     string      `json:"domain"`
	ExternalID string      `json:"external_id"`
	TargetURL  string      `json:"target_url"`
	Method     string      `json:"method"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	RetryCount int         `json:"retry_count"`
}

// DeadLetter 是超过重试上限后移出队列的写入。
type DeadLetter struct {
	Mutation
	LastError string    `json:"last_error"`
	DeadAt    time.Time `json:"dead_at"`
}

// 回放时由 HTTP 客户端重新计算的头部，不入库。
var unpersistedHeaders = map[string]struct{}{
	"Content-Length":  {},
	"Host":            {},
	"Accept-Encoding": {},
}

// Capture 根据失败的请求构造待入队条目。header 应已去除 hop-by-hop 字段。
func Capture(domain, method, target string, header http.Header, body []byte) Mutation {
	kept := make(http.Header, len(header))
	for key, values := range header {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if _, skip := unpersistedHeaders[canonical]; skip {
			continue
		}
		kept[canonical] = append([]string(nil), values...)
	}
	return Mutation{
		Domain:    domain,
		Method:    strings.ToUpper(method),
		TargetURL: target,
		Header:    kept,
		Body:      append([]byte(nil), body...),
	}
}
