package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
)

// 响应头：标记缓存来源，便于 UI 提示正在查看旧数据。
const (
	HeaderOfflineCache    = "X-Offline-Cache"
	HeaderOfflineCachedAt = "X-Offline-Cached-At"
	HeaderOfflineQueued   = "X-Offline-Queued"
)

// Outcome.Cache 的取值。
const (
	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheStale       = "stale"
	CacheOffline     = "offline_page"
	CacheStoreFailed = "store_failed"
)

// ErrOffline 表示网络与缓存都不可用，且没有兜底页面。
var ErrOffline = errors.New("network and cache unavailable")

// UpstreamError 包装传输层失败（连接拒绝、超时、DNS 等）。HTTP 错误状态码不算失败。
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream unreachable: " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Fetcher 执行上游请求，*http.Client 即满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheStore 是读策略依赖的缓存操作子集，*cache.Manager 即满足该接口。
type CacheStore interface {
	Match(ctx context.Context, target string) (*cache.ReadResult, error)
	MatchIn(ctx context.Context, bucket, target string) (*cache.ReadResult, error)
	Put(ctx context.Context, bucket, target string, status int, header http.Header, body []byte) error
	OfflinePage(ctx context.Context) (*cache.ReadResult, error)
}

// Outcome 是策略产出的响应，由 Handler 写回 Fiber。
type Outcome struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Cache  string
}

// Close 释放响应体。
func (o *Outcome) Close() {
	if o != nil && o.Body != nil {
		o.Body.Close()
	}
}

// Strategies 实现 cache-first、network-first-with-fallback 与 network-only 三种读路径。
type Strategies struct {
	client Fetcher
	cache  CacheStore
	logger *logrus.Logger
}

// NewStrategies 构建读策略集合。
func NewStrategies(client Fetcher, store CacheStore, logger *logrus.Logger) *Strategies {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Strategies{client: client, cache: store, logger: logger}
}

// CacheFirst 优先返回缓存；未命中时回源，200 响应写入 app-shell 后返回；
// 网络也失败时返回兜底页面。
func (s *Strategies) CacheFirst(ctx context.Context, req *http.Request) (*Outcome, error) {
	target := req.URL.String()
	if result, err := s.cache.Match(ctx, target); err == nil {
		return fromCache(result, CacheHit), nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.WithError(err).WithField("url", target).Warn("cache_get_failed")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if page := s.offlinePage(ctx); page != nil {
			return page, nil
		}
		return nil, ErrOffline
	}
	return s.storeAndReturn(ctx, req, resp, cache.BucketAppShell)
}

// NetworkFallback 优先走网络，200 响应写入 data；传输失败时返回 data 中的旧副本，
// 并以响应头标记为 stale。没有副本时返回 *UpstreamError。
func (s *Strategies) NetworkFallback(ctx context.Context, req *http.Request) (*Outcome, error) {
	resp, err := s.client.Do(req)
	if err == nil {
		return s.storeAndReturn(ctx, req, resp, cache.BucketData)
	}

	result, cacheErr := s.cache.MatchIn(ctx, cache.BucketData, req.URL.String())
	if cacheErr != nil {
		if !errors.Is(cacheErr, cache.ErrNotFound) {
			s.logger.WithError(cacheErr).WithField("url", req.URL.String()).Warn("cache_get_failed")
		}
		return nil, &UpstreamError{Err: err}
	}
	outcome := fromCache(result, CacheStale)
	outcome.Header.Set(HeaderOfflineCachedAt, result.Entry.ModTime.UTC().Format(http.TimeFormat))
	return outcome, nil
}

// NetworkOnly 直连网络。传输失败时，HTML 导航请求返回兜底页面，其余返回 *UpstreamError。
func (s *Strategies) NetworkOnly(ctx context.Context, req *http.Request) (*Outcome, error) {
	resp, err := s.client.Do(req)
	if err == nil {
		return fromResponse(resp, ""), nil
	}
	if IsNavigation(req) {
		if page := s.offlinePage(ctx); page != nil {
			return page, nil
		}
	}
	return nil, &UpstreamError{Err: err}
}

// storeAndReturn 在 GET 且状态码为 200 时缓冲正文并写入指定桶。缓存写失败只记录日志。
func (s *Strategies) storeAndReturn(ctx context.Context, req *http.Request, resp *http.Response, bucket string) (*Outcome, error) {
	if req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return fromResponse(resp, ""), nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	state := CacheMiss
	if err := s.cache.Put(ctx, bucket, req.URL.String(), resp.StatusCode, resp.Header, body); err != nil {
		state = CacheStoreFailed
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_put",
			"bucket": bucket,
			"url":    req.URL.String(),
		}).Warn("cache_store_failed")
	}

	header := resp.Header.Clone()
	header.Del("Content-Length")
	return &Outcome{
		Status: resp.StatusCode,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Cache:  state,
	}, nil
}

func (s *Strategies) offlinePage(ctx context.Context) *Outcome {
	result, err := s.cache.OfflinePage(ctx)
	if err != nil {
		return nil
	}
	outcome := fromCache(result, CacheOffline)
	if outcome.Header.Get("Content-Type") == "" {
		outcome.Header.Set("Content-Type", "text/html; charset=utf-8")
	}
	return outcome
}

func fromCache(result *cache.ReadResult, state string) *Outcome {
	header := result.Entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderOfflineCache, state)
	status := result.Entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &Outcome{
		Status: status,
		Header: header,
		Body:   result.Reader,
		Cache:  state,
	}
}

func fromResponse(resp *http.Response, state string) *Outcome {
	return &Outcome{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   resp.Body,
		Cache:  state,
	}
}

// IsNavigation 判断请求是否为浏览器页面导航（GET 且 Accept 包含 text/html）。
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// cachedAt 解析 X-Offline-Cached-At，写入代理日志的 cached_at 字段。
func cachedAt(header http.Header) (time.Time, bool) {
	raw := header.Get(HeaderOfflineCachedAt)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(raw)
	return t, err == nil
}
