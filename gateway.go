package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/domain"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/notify"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/queue"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
	"github.com/any-hub/offline-hub/internal/syncer"
	"github.com/any-hub/offline-hub/internal/worker"
)

const (
	hubBuffer       = 16
	shutdownTimeout = 5 * time.Second
)

// gateway 持有一次进程运行所需的全部组件。
type gateway struct {
	cfg          *config.Config
	logger       *logrus.Logger
	client       *http.Client
	origins      *server.OriginRegistry
	cache        *cache.Manager
	queue        *queue.Store
	domains      *domain.Registry
	hub          *notify.Hub
	orchestrator *syncer.Orchestrator
	poller       *syncer.Poller
	worker       *worker.Worker
	app          *fiber.App
}

// buildGateway 按"源站 → 缓存 → 队列 → 回放 → 生命周期 → 代理 → Fiber"顺序装配，
// 保证所有请求共享同一份缓存与队列实例。
func buildGateway(cfg *config.Config, logger *logrus.Logger) (gw *gateway, err error) {
	gw = &gateway{cfg: cfg, logger: logger}

	gw.origins, err = server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建源站映射失败: %w", err)
	}
	gw.client = server.NewUpstreamClient(cfg.Global)

	gw.cache, err = openCache(cfg, gw.origins, gw.client, logger)
	if err != nil {
		return nil, err
	}

	gw.domains, err = domain.FromConfig(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("构建业务域失败: %w", err)
	}

	gw.queue, err = openQueue(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			gw.queue.Close()
		}
	}()

	gw.hub = notify.NewHub(hubBuffer, logger)
	gw.orchestrator, err = newOrchestrator(cfg, gw.queue, gw.domains, gw.client, gw.hub, logger)
	if err != nil {
		return nil, err
	}

	pingURL := ""
	if cfg.Sync.PingPath != "" {
		pingURL = gw.origins.PrimaryURL(cfg.Sync.PingPath)
	}
	gw.poller, err = syncer.NewPoller(syncer.PollerOptions{
		Runner:   gw.orchestrator,
		Queue:    gw.queue,
		Client:   gw.client,
		Logger:   logger,
		Interval: cfg.Sync.SyncInterval.DurationValue(),
		PingURL:  pingURL,
	})
	if err != nil {
		return nil, fmt.Errorf("构建轮询器失败: %w", err)
	}

	gw.worker, err = worker.New(worker.Options{
		Cache:        gw.cache,
		Syncer:       gw.orchestrator,
		Logger:       logger,
		AutoActivate: cfg.Sync.AutoActivate,
	})
	if err != nil {
		return nil, fmt.Errorf("构建生命周期失败: %w", err)
	}

	handler, err := proxy.NewHandler(proxy.HandlerOptions{
		Client:    gw.client,
		Cache:     gw.cache,
		Queue:     gw.queue,
		Scheduler: gw.poller,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("构建代理失败: %w", err)
	}
	forwarder := proxy.NewForwarder(classify.FromConfig(cfg, gw.domains), gw.worker, logger)
	if err = handler.Bind(forwarder); err != nil {
		return nil, fmt.Errorf("注册代理策略失败: %w", err)
	}

	gw.app, err = server.NewApp(server.AppOptions{
		Logger:     logger,
		Origins:    gw.origins,
		Proxy:      forwarder,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	err = routes.RegisterDiagnostics(gw.app, routes.Dependencies{
		Worker: gw.worker,
		Cache:  gw.cache,
		Queue:  gw.queue,
		Sync:   gw.orchestrator,
		Hub:    gw.hub,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// openCache 构建磁盘缓存与命名空间管理器。安装清单为 app-shell 路径（相对 Upstream）
// 加上第三方资源绝对地址。
func openCache(cfg *config.Config, origins *server.OriginRegistry, client *http.Client, logger *logrus.Logger) (*cache.Manager, error) {
	store, err := cache.NewStore(filepath.Join(cfg.Global.StoragePath, "cache"))
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	offlinePage := ""
	if cfg.Cache.OfflinePage != "" {
		offlinePage = origins.PrimaryURL(cfg.Cache.OfflinePage)
	}
	manager, err := cache.NewManager(cache.ManagerOptions{
		Store:       store,
		Client:      client,
		Logger:      logger,
		Version:     cfg.Cache.Version,
		Members:     shellMembers(cfg, origins),
		OfflinePage: offlinePage,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存管理失败: %w", err)
	}
	return manager, nil
}

func shellMembers(cfg *config.Config, origins *server.OriginRegistry) []string {
	seen := make(map[string]struct{})
	var members []string
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		members = append(members, u)
	}
	for _, p := range cfg.Cache.AppShell {
		add(origins.PrimaryURL(p))
	}
	for _, u := range cfg.Cache.ThirdPartyAssets {
		add(u)
	}
	return members
}

func openQueue(cfg *config.Config) (*queue.Store, error) {
	q, err := queue.Open(filepath.Join(cfg.Global.StoragePath, "queue.db"))
	if err != nil {
		return nil, fmt.Errorf("打开离线队列失败: %w", err)
	}
	return q, nil
}

// newOrchestrator 构建回放编排器。notifier 为空时（CLI sync）不广播。
func newOrchestrator(cfg *config.Config, q *queue.Store, domains *domain.Registry, client *http.Client, notifier syncer.Broadcaster, logger *logrus.Logger) (*syncer.Orchestrator, error) {
	orch, err := syncer.NewOrchestrator(syncer.Options{
		Queue:         q,
		Domains:       domains,
		Client:        client,
		Notifier:      notifier,
		Logger:        logger,
		Upstream:      cfg.Global.Upstream,
		ReplayTimeout: cfg.Sync.ReplayTimeout.DurationValue(),
		MaxAttempts:   cfg.Sync.MaxReplayAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("构建回放编排失败: %w", err)
	}
	return orch, nil
}

// serve 启动生命周期、轮询器与 HTTP 服务，ctx 结束时优雅退出。
func (g *gateway) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := logging.Component(g.logger, "gateway")

	go g.startWorker(ctx)
	go func() {
		if err := g.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("poller_stopped")
		}
	}()

	addr := fmt.Sprintf(":%d", g.cfg.Global.ListenPort)
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	log.WithFields(logrus.Fields{
		"action": "listen",
		"port":   g.cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.WithField("action", "shutdown").Info("收到退出信号")
		return g.app.ShutdownWithTimeout(shutdownTimeout)
	}
}

// startWorker 执行 install/activate。上游不可达导致安装失败时，
// 按 SyncInterval 重试，期间请求直接透传到网络。
func (g *gateway) startWorker(ctx context.Context) {
	interval := g.cfg.Sync.SyncInterval.DurationValue()
	log := logging.Component(g.logger, "gateway")
	for {
		err := g.worker.Start(ctx)
		if err == nil {
			return
		}
		log.WithError(err).WithFields(logrus.Fields{
			"action": "lifecycle",
			"state":  g.worker.State().String(),
			"retry":  interval.String(),
		}).Warn("worker_start_failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (g *gateway) Close() error {
	return g.queue.Close()
}
