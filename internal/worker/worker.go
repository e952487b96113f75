// Package worker 管理网关实例的 install → waiting → active 生命周期，
// 并分发 UI 发来的维护消息。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/notify"
	"github.com/any-hub/offline-hub/internal/syncer"
)

// CacheManager 是生命周期依赖的缓存操作子集，*cache.Manager 即满足该接口。
type CacheManager interface {
	Installed(ctx context.Context) bool
	Install(ctx context.Context) error
	Activate(ctx context.Context) ([]string, error)
	ClearAll(ctx context.Context) ([]string, error)
}

// Syncer 执行 FORCE_SYNC，*syncer.Orchestrator 即满足该接口。
type Syncer interface {
	SyncAll(ctx context.Context) (syncer.Report, error)
}

// Options 描述 Worker 依赖。
type Options struct {
	Cache        CacheManager
	Syncer       Syncer
	Logger       *logrus.Logger
	AutoActivate bool
}

// Worker 持有生命周期状态。激活前 Controlling 为 false，代理层直接透传请求。
type Worker struct {
	cache        CacheManager
	syncer       Syncer
	logger       *logrus.Logger
	autoActivate bool

	mu          sync.RWMutex
	state       State
	controlling bool
	lastErr     error
}

// New 创建处于 parsed 状态的 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		cache:        opts.Cache,
		syncer:       opts.Syncer,
		logger:       logger,
		autoActivate: opts.AutoActivate,
		state:        StateParsed,
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Controlling 报告代理是否已接管请求（激活完成）。
func (w *Worker) Controlling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.controlling
}

// LastError 返回最近一次安装或激活失败的原因。
func (w *Worker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

func (w *Worker) transition(to State, reason string) error {
	w.mu.Lock()
	from := w.state
	if !validTransition(from, to) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	w.state = to
	if to == StateActivated {
		w.controlling = true
	}
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"action": "lifecycle",
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	}).Info("state_transition")
	return nil
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

// Start 安装并在 AutoActivate 时立即激活。app-shell 已完整落盘时跳过预取，
// 离线重启也能进入 waiting 状态。
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	if !w.autoActivate {
		return nil
	}
	return w.Activate(ctx)
}

// Install 预取 app-shell。失败时进入 redundant 状态并返回错误。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling, "install"); err != nil {
		return err
	}
	if w.cache.Installed(ctx) {
		w.logger.WithField("action", "lifecycle").Info("app_shell_already_installed")
		return w.transition(StateInstalled, "cached")
	}
	if err := w.cache.Install(ctx); err != nil {
		w.fail(err)
		_ = w.transition(StateRedundant, "install_failed")
		return fmt.Errorf("install: %w", err)
	}
	return w.transition(StateInstalled, "installed")
}

// Activate 清理旧版本命名空间并接管请求。只能从 waiting（installed）状态进入。
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating, "activate"); err != nil {
		return err
	}
	deleted, err := w.cache.Activate(ctx)
	if err != nil {
		w.fail(err)
		_ = w.transition(StateRedundant, "activate_failed")
		return fmt.Errorf("activate: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"action":  "lifecycle",
		"deleted": deleted,
	}).Info("clients_claimed")
	return w.transition(StateActivated, "activated")
}

// HandleMessage 分发 UI 入站消息。
func (w *Worker) HandleMessage(ctx context.Context, msg notify.Inbound) error {
	w.logger.WithFields(logrus.Fields{
		"action": "message",
		"type":   msg.Type,
	}).Info("message_received")

	switch msg.Type {
	case notify.SkipWaiting:
		if w.State() == StateActivated {
			return nil
		}
		return w.Activate(ctx)
	case notify.ForceSync:
		if w.syncer == nil {
			return errors.New("sync is not configured")
		}
		_, err := w.syncer.SyncAll(ctx)
		return err
	case notify.ClearCache:
		_, err := w.cache.ClearAll(ctx)
		return err
	default:
		return fmt.Errorf("unsupported message type %q", msg.Type)
	}
}
