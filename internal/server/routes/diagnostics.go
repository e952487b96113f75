package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/notify"
	"github.com/any-hub/offline-hub/internal/queue"
	"github.com/any-hub/offline-hub/internal/syncer"
	"github.com/any-hub/offline-hub/internal/worker"
)

// Lifecycle 是 *worker.Worker 暴露给诊断接口的能力。
type Lifecycle interface {
	State() worker.State
	Controlling() bool
	LastError() error
	HandleMessage(ctx context.Context, msg notify.Inbound) error
}

// CacheInspector 是 *cache.Manager 的只读视图。
type CacheInspector interface {
	Version() int
	Namespaces(ctx context.Context) ([]string, error)
}

// QueueInspector 是 *queue.Store 的只读视图。
type QueueInspector interface {
	Counts(ctx context.Context) (map[string]int, error)
	Pending(ctx context.Context, domain string) ([]queue.Mutation, error)
	DeadLetters(ctx context.Context) ([]queue.DeadLetter, error)
}

// SyncRunner 是 *syncer.Orchestrator 暴露给诊断接口的能力。
type SyncRunner interface {
	HandleTag(ctx context.Context, tag string) (syncer.Report, error)
	LastReport() (syncer.Report, bool)
}

// Subscriber 是 *notify.Hub 的订阅能力。
type Subscriber interface {
	Subscribe() (<-chan notify.Outbound, func())
	Clients() int
}

// Dependencies 汇总诊断接口依赖，全部字段必填。
type Dependencies struct {
	Worker Lifecycle
	Cache  CacheInspector
	Queue  QueueInspector
	Sync   SyncRunner
	Hub    Subscriber
	Logger *logrus.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.Worker == nil:
		return errors.New("worker is required")
	case d.Cache == nil:
		return errors.New("cache is required")
	case d.Queue == nil:
		return errors.New("queue is required")
	case d.Sync == nil:
		return errors.New("sync runner is required")
	case d.Hub == nil:
		return errors.New("notification hub is required")
	}
	return nil
}

// RegisterDiagnostics 在 app 上挂载 /-/ 接口，须在 server.NewApp 之后调用。
func RegisterDiagnostics(app *fiber.App, deps Dependencies) error {
	if app == nil {
		return errors.New("app is required")
	}
	if err := deps.validate(); err != nil {
		return err
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	app.Get("/-/status", statusHandler(deps))
	app.Get("/-/queue", queueHandler(deps))
	app.Post("/-/messages", messageHandler(deps))
	app.Post("/-/sync/:tag", syncHandler(deps))
	app.Get("/-/events", eventsHandler(deps))
	return nil
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
