package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/domain"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/notify"
	"github.com/any-hub/offline-hub/internal/queue"
	"github.com/any-hub/offline-hub/internal/version"
)

// 回放请求附带的头部。
const (
	HeaderSyncRequest    = "X-Sync-Request"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderDeviceID       = "X-Device-ID"
)

const defaultReplayTimeout = 15 * time.Second

// Fetcher 执行回放请求，*http.Client 即满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Queue 是编排器依赖的队列操作子集。
type Queue interface {
	Pending(ctx context.Context, domain string) ([]queue.Mutation, error)
	Delete(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, maxAttempts int, reason string) (bool, error)
	Domains(ctx context.Context) ([]string, error)
	Total(ctx context.Context) (int, error)
	DeviceID(ctx context.Context) (string, error)
}

// Broadcaster 将出站消息推送给全部 UI 标签页。
type Broadcaster interface {
	Broadcast(msg notify.Outbound) int
}

// Options 描述编排器依赖。
type Options struct {
	Queue         Queue
	Domains       *domain.Registry
	Client        Fetcher
	Notifier      Broadcaster
	Logger        *logrus.Logger
	Upstream      string
	ReplayTimeout time.Duration
	// MaxAttempts 为 0 表示无限重试；大于 0 时达到上限的条目转入死信。
	MaxAttempts int
	Now         func() time.Time
}

// Report 汇总一轮回放的结果。
type Report struct {
	Tag          string    `json:"tag"`
	Domains      []string  `json:"domains"`
	Synced       int       `json:"synced"`
	Failed       int       `json:"failed"`
	DeadLettered int       `json:"dead_lettered"`
	Pending      int       `json:"pending"`
	StoreErrors  int       `json:"store_errors"`
	Success      bool      `json:"success"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Orchestrator 串行执行回放轮次。
type Orchestrator struct {
	queue       Queue
	domains     *domain.Registry
	client      Fetcher
	notifier    Broadcaster
	logger      *logrus.Logger
	upstream    string
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time

	// passMu 保证同一时刻只有一轮回放，避免同一条目被并发重放。
	passMu sync.Mutex

	mu   sync.RWMutex
	last *Report
}

// NewOrchestrator 校验依赖后构建编排器。
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Domains == nil {
		return nil, errors.New("domain registry is required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	timeout := opts.ReplayTimeout
	if timeout <= 0 {
		timeout = defaultReplayTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		queue:       opts.Queue,
		domains:     opts.Domains,
		client:      opts.Client,
		notifier:    opts.Notifier,
		logger:      logger,
		upstream:    opts.Upstream,
		timeout:     timeout,
		maxAttempts: opts.MaxAttempts,
		now:         now,
	}, nil
}

// HandleTag 处理一个后台同步标签。未知标签返回 domain.ErrUnknownTag 且不广播。
func (o *Orchestrator) HandleTag(ctx context.Context, tag string) (Report, error) {
	stores, all, err := o.domains.ResolveTag(tag)
	if err != nil {
		return Report{}, err
	}
	if all {
		return o.SyncAll(ctx)
	}
	return o.Sync(ctx, tag, stores), nil
}

// SyncAll 回放全部已注册业务域，以及队列中仍有条目但已不在配置里的业务域。
func (o *Orchestrator) SyncAll(ctx context.Context) (Report, error) {
	stores := o.domains.List()
	known := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		known[s.Name] = struct{}{}
	}
	queued, err := o.queue.Domains(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list queued domains: %w", err)
	}
	for _, name := range queued {
		if _, ok := known[name]; !ok {
			stores = append(stores, domain.Store{Name: name})
		}
	}
	return o.Sync(ctx, domain.TagAll, stores), nil
}

// Sync 对给定业务域执行一轮回放，结束后广播一次 SYNC_COMPLETE。
func (o *Orchestrator) Sync(ctx context.Context, tag string, stores []domain.Store) Report {
	o.passMu.Lock()
	defer o.passMu.Unlock()

	report := Report{Tag: tag, StartedAt: o.now()}
	deviceID, err := o.queue.DeviceID(ctx)
	if err != nil {
		report.StoreErrors++
		o.logger.WithError(err).WithField("action", "sync").Warn("device_id_unavailable")
	}

	for _, store := range stores {
		report.Domains = append(report.Domains, store.Name)
		o.syncDomain(ctx, store, deviceID, &report)
	}

	if total, err := o.queue.Total(ctx); err != nil {
		report.StoreErrors++
		o.logger.WithError(err).WithField("action", "sync").Warn("pending_count_failed")
	} else {
		report.Pending = total
	}

	report.FinishedAt = o.now()
	report.Success = report.Failed == 0 && report.StoreErrors == 0
	o.finish(report)
	return report
}

func (o *Orchestrator) syncDomain(ctx context.Context, store domain.Store, deviceID string, report *Report) {
	pending, err := o.queue.Pending(ctx, store.Name)
	if err != nil {
		report.StoreErrors++
		o.logger.WithError(err).WithFields(logrus.Fields{
			"action": "sync",
			"domain": store.Name,
		}).Error("pending_query_failed")
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}
		target := store.ReplayURL(o.upstream, m.TargetURL)
		fields := logging.MutationFields(store.Name, m.ID, m.Method, target)
		fields["action"] = "replay"
		fields["retry_count"] = m.RetryCount

		status, replayErr := o.replay(ctx, m, target, deviceID)
		if replayErr == nil {
			if err := o.queue.Delete(ctx, m.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
				report.StoreErrors++
				o.logger.WithFields(fields).WithError(err).Error("replay_delete_failed")
				continue
			}
			report.Synced++
			fields["upstream_status"] = status
			o.logger.WithFields(fields).Info("replay_succeeded")
			continue
		}

		report.Failed++
		dead, err := o.queue.RecordFailure(ctx, m.ID, o.maxAttempts, replayErr.Error())
		if err != nil {
			report.StoreErrors++
			o.logger.WithFields(fields).WithError(err).Error("replay_record_failure_failed")
			continue
		}
		if dead {
			report.DeadLettered++
			o.logger.WithFields(fields).WithError(replayErr).Error("replay_dead_lettered")
			continue
		}
		o.logger.WithFields(fields).WithError(replayErr).Warn("replay_failed")
	}
}

// replay 在单条超时内重放请求，只有 2xx 视为成功。
func (o *Orchestrator) replay(ctx context.Context, m queue.Mutation, target, deviceID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, m.Method, target, bytes.NewReader(m.Body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	for key, values := range m.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	req.Header.Set(HeaderSyncRequest, "true")
	req.Header.Set(HeaderIdempotencyKey, m.ExternalID)
	if deviceID != "" {
		req.Header.Set(HeaderDeviceID, deviceID)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("replay status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (o *Orchestrator) finish(report Report) {
	o.mu.Lock()
	o.last = &report
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"action":        "sync",
		"tag":           report.Tag,
		"domains":       report.Domains,
		"synced":        report.Synced,
		"failed":        report.Failed,
		"dead_lettered": report.DeadLettered,
		"pending":       report.Pending,
		"elapsed_ms":    report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}).Info("sync_complete")

	if o.notifier != nil {
		o.notifier.Broadcast(notify.NewSyncComplete(report.Success, report.FinishedAt, report.Synced, report.Failed, report.Pending))
	}
}

// LastReport 返回最近一轮回放的结果，供 /-/status 展示。
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}
