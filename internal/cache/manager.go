package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/version"
)

// Fetcher 抽象出网络访问能力，*http.Client 即满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// ManagerOptions 描述命名空间管理器的依赖与清单。
type ManagerOptions struct {
	Store   Store
	Client  Fetcher
	Logger  *logrus.Logger
	Version int
	// Members 是安装阶段必须全部预取成功的绝对 URL 列表。
	Members []string
	// OfflinePage 是兜底页面的绝对 URL，应同时出现在 Members 中。
	OfflinePage string
}

// Manager 管理 app-shell/data 两个桶的当前版本命名空间。
type Manager struct {
	store       Store
	client      Fetcher
	logger      *logrus.Logger
	version     int
	members     []string
	offlinePage string
}

// NewManager 校验依赖后构建 Manager。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Version <= 0 {
		return nil, fmt.Errorf("invalid cache version: %d", opts.Version)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		store:       opts.Store,
		client:      opts.Client,
		logger:      logger,
		version:     opts.Version,
		members:     append([]string(nil), opts.Members...),
		offlinePage: opts.OfflinePage,
	}, nil
}

// Namespace 返回指定桶当前版本的命名空间名称。
func (m *Manager) Namespace(bucket string) string {
	return Namespace{Bucket: bucket, Version: m.version}.Name()
}

// Version 返回当前缓存版本号。
func (m *Manager) Version() int {
	return m.version
}

// Namespaces 列出磁盘上的全部命名空间，供 /-/status 展示。
func (m *Manager) Namespaces(ctx context.Context) ([]string, error) {
	return m.store.Namespaces(ctx)
}

// Members 返回安装清单副本。
func (m *Manager) Members() []string {
	return append([]string(nil), m.members...)
}

// Installed 判断当前版本的 app-shell 是否已完整落盘，重启时据此跳过重新预取。
func (m *Manager) Installed(ctx context.Context) bool {
	if len(m.members) == 0 {
		return false
	}
	ns := m.Namespace(BucketAppShell)
	for _, member := range m.members {
		result, err := m.store.Get(ctx, Locator{Namespace: ns, URL: member})
		if err != nil {
			return false
		}
		result.Reader.Close()
	}
	return true
}

type fetchedMember struct {
	url    string
	status int
	header http.Header
	body   []byte
}

// Install 预取全部 app-shell 成员。任何一个成员失败都会让整个安装失败，
// 且不会写入任何条目，保证坏部署第一时间暴露。
func (m *Manager) Install(ctx context.Context) error {
	fetched := make([]fetchedMember, 0, len(m.members))
	for _, member := range m.members {
		item, err := m.fetchMember(ctx, member)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"action": "cache_install",
				"url":    member,
			}).WithError(err).Error("install_fetch_failed")
			return fmt.Errorf("install %s: %w", member, err)
		}
		fetched = append(fetched, item)
	}

	ns := m.Namespace(BucketAppShell)
	for _, item := range fetched {
		locator := Locator{Namespace: ns, URL: item.url}
		opts := PutOptions{Status: item.status, Header: item.header}
		if _, err := m.store.Put(ctx, locator, bytes.NewReader(item.body), opts); err != nil {
			if dropErr := m.store.DropNamespace(ctx, ns); dropErr != nil {
				m.logger.WithError(dropErr).WithField("namespace", ns).Warn("install_rollback_failed")
			}
			return fmt.Errorf("install %s: write cache: %w", item.url, err)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"action":    "cache_install",
		"namespace": ns,
		"members":   len(fetched),
	}).Info("install_complete")
	return nil
}

func (m *Manager) fetchMember(ctx context.Context, target string) (fetchedMember, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fetchedMember{}, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.client.Do(req)
	if err != nil {
		return fetchedMember{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fetchedMember{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetchedMember{}, err
	}
	return fetchedMember{
		url:    target,
		status: resp.StatusCode,
		header: StorableHeader(resp.Header),
		body:   body,
	}, nil
}

// Activate 删除已知桶下版本号不等于当前版本的命名空间，返回被删除的名称。
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.store.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if !m.isStale(name) {
			continue
		}
		if err := m.store.DropNamespace(ctx, name); err != nil {
			return deleted, fmt.Errorf("drop namespace %s: %w", name, err)
		}
		deleted = append(deleted, name)
		m.logger.WithFields(logrus.Fields{
			"action":    "cache_activate",
			"namespace": name,
		}).Info("stale_namespace_removed")
	}
	return deleted, nil
}

func (m *Manager) isStale(name string) bool {
	if ns, ok := ParseNamespace(name); ok {
		return isKnownBucket(ns.Bucket) && ns.Version != m.version
	}
	for _, bucket := range KnownBuckets() {
		if strings.HasPrefix(name, bucket+"-") {
			return true
		}
	}
	return false
}

// ClearAll 删除磁盘上的全部命名空间，对应 CLEAR_CACHE 维护消息。
func (m *Manager) ClearAll(ctx context.Context) ([]string, error) {
	names, err := m.store.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	for _, name := range names {
		if err := m.store.DropNamespace(ctx, name); err != nil {
			return nil, fmt.Errorf("drop namespace %s: %w", name, err)
		}
	}
	m.logger.WithFields(logrus.Fields{
		"action":     "cache_clear",
		"namespaces": names,
	}).Warn("all_namespaces_cleared")
	return names, nil
}

// Match 依次在当前 app-shell 与 data 命名空间中查找 URL。
func (m *Manager) Match(ctx context.Context, target string) (*ReadResult, error) {
	for _, bucket := range KnownBuckets() {
		result, err := m.MatchIn(ctx, bucket, target)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// MatchIn 只在指定桶的当前命名空间中查找。
func (m *Manager) MatchIn(ctx context.Context, bucket, target string) (*ReadResult, error) {
	return m.store.Get(ctx, Locator{Namespace: m.Namespace(bucket), URL: target})
}

// Put 将一份响应副本写入指定桶的当前命名空间。
func (m *Manager) Put(ctx context.Context, bucket, target string, status int, header http.Header, body []byte) error {
	locator := Locator{Namespace: m.Namespace(bucket), URL: target}
	_, err := m.store.Put(ctx, locator, bytes.NewReader(body), PutOptions{
		Status: status,
		Header: StorableHeader(header),
	})
	return err
}

// OfflinePage 返回兜底页面缓存；未配置时返回 ErrNotFound。
func (m *Manager) OfflinePage(ctx context.Context) (*ReadResult, error) {
	if m.offlinePage == "" {
		return nil, ErrNotFound
	}
	return m.MatchIn(ctx, BucketAppShell, m.offlinePage)
}

var unstorableHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
	"Set-Cookie":          {},
	"Date":                {},
}

// StorableHeader 过滤掉不应随缓存回放的头部（逐跳字段、Set-Cookie、长度）。
func StorableHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		if _, skip := unstorableHeaders[textproto.CanonicalMIMEHeaderKey(key)]; skip {
			continue
		}
		dst[textproto.CanonicalMIMEHeaderKey(key)] = append([]string(nil), values...)
	}
	return dst
}
