package syncer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/domain"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/version"
)

const (
	defaultInterval = 30 * time.Second
	probeTimeout    = 5 * time.Second
	maxBackoffRatio = 8
)

// Runner 执行一个 sync 标签，Orchestrator 即满足该接口。
type Runner interface {
	HandleTag(ctx context.Context, tag string) (Report, error)
}

// Counter 返回队列中待回放条目总数。
type Counter interface {
	Total(ctx context.Context) (int, error)
}

// PollerOptions 描述连通性轮询器依赖。
type PollerOptions struct {
	Runner   Runner
	Queue    Counter
	Client   Fetcher
	Logger   *logrus.Logger
	Interval time.Duration
	// PingURL 为空时视为上游始终可达。
	PingURL string
}

// Poller 代替宿主平台的后台同步调度：记录待执行的 sync 标签，
// 定时或被唤醒时探测上游，可达后执行回放。
type Poller struct {
	runner   Runner
	queue    Counter
	client   Fetcher
	logger   *logrus.Logger
	interval time.Duration
	pingURL  string

	nudge chan struct{}

	mu   sync.Mutex
	tags map[string]struct{}
}

// NewPoller 构建轮询器。
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Runner == nil || opts.Queue == nil {
		return nil, errors.New("runner and queue are required")
	}
	if opts.PingURL != "" && opts.Client == nil {
		return nil, errors.New("http client is required for probing")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller{
		runner:   opts.Runner,
		queue:    opts.Queue,
		client:   opts.Client,
		logger:   logger,
		interval: interval,
		pingURL:  opts.PingURL,
		nudge:    make(chan struct{}, 1),
		tags:     make(map[string]struct{}),
	}, nil
}

// Register 登记一个后台同步标签并立即唤醒轮询器。重复登记会被合并。
func (p *Poller) Register(tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return
	}
	p.mu.Lock()
	p.tags[tag] = struct{}{}
	p.mu.Unlock()
	p.Nudge()
}

// Nudge 非阻塞地唤醒轮询器。
func (p *Poller) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Registered 返回尚未执行的标签数量。
func (p *Poller) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tags)
}

// Run 阻塞运行直到 ctx 结束。探测失败时按指数退避（带抖动）延后下一次尝试，
// 上限为 Interval 的 8 倍。
func (p *Poller) Run(ctx context.Context) error {
	b := newBackoff(p.interval, p.interval*maxBackoffRatio)
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.nudge:
		case <-timer.C:
		}

		next := p.interval
		if p.Poll(ctx) {
			b.Reset()
		} else {
			next = b.Next()
		}
		resetTimer(timer, next)
	}
}

// Poll 执行一次轮询：队列为空且无登记标签时直接返回；否则探测上游，
// 可达时执行回放。返回 false 表示上游不可达。
func (p *Poller) Poll(ctx context.Context) bool {
	total, err := p.queue.Total(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("action", "sync_poll").Warn("pending_count_failed")
		return true
	}
	tags := p.takeTags()
	if total == 0 && len(tags) == 0 {
		return true
	}

	if err := p.probe(ctx); err != nil {
		p.restoreTags(tags)
		p.logger.WithFields(logrus.Fields{
			"action":  "sync_poll",
			"pending": total,
			"ping":    p.pingURL,
		}).WithError(err).Debug("upstream_unreachable")
		return false
	}

	for _, tag := range planTags(tags) {
		if _, err := p.runner.HandleTag(ctx, tag); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"action": "sync_poll",
				"tag":    tag,
			}).Warn("sync_tag_rejected")
		}
	}
	return true
}

// planTags 合并标签：无登记标签或包含 sync-all 时只跑一轮 sync-all。
func planTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{domain.TagAll}
	}
	for _, tag := range tags {
		if tag == domain.TagAll {
			return []string{domain.TagAll}
		}
	}
	return tags
}

func (p *Poller) probe(ctx context.Context) error {
	if p.pingURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pingURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Cache-Control", "no-store")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.New(resp.Status)
	}
	return nil
}

func (p *Poller) takeTags() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tags) == 0 {
		return nil
	}
	tags := make([]string, 0, len(p.tags))
	for tag := range p.tags {
		tags = append(tags, tag)
	}
	p.tags = make(map[string]struct{})
	sort.Strings(tags)
	return tags
}

func (p *Poller) restoreTags(tags []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tag := range tags {
		p.tags[tag] = struct{}{}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
