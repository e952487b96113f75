package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/queue"
	"github.com/any-hub/offline-hub/internal/syncer"
	"github.com/any-hub/offline-hub/internal/version"
)

type statusPayload struct {
	Version     string         `json:"version"`
	State       string         `json:"state"`
	Controlling bool           `json:"controlling"`
	LastError   string         `json:"last_error,omitempty"`
	Cache       cachePayload   `json:"cache"`
	Queue       map[string]int `json:"queue"`
	LastSync    *syncer.Report `json:"last_sync,omitempty"`
	Clients     int            `json:"clients"`
}

type cachePayload struct {
	Version    int      `json:"version"`
	Namespaces []string `json:"namespaces"`
}

type queuePayload struct {
	Pending     map[string][]queue.Mutation `json:"pending"`
	DeadLetters []queue.DeadLetter          `json:"dead_letters"`
}

func statusHandler(deps Dependencies) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx := c.Context()
		namespaces, err := deps.Cache.Namespaces(ctx)
		if err != nil {
			deps.Logger.WithError(err).Warn("status_namespaces_failed")
			return writeError(c, fiber.StatusInternalServerError, "cache_unavailable")
		}
		counts, err := deps.Queue.Counts(ctx)
		if err != nil {
			deps.Logger.WithError(err).Warn("status_queue_failed")
			return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
		}

		payload := statusPayload{
			Version:     version.Full(),
			State:       deps.Worker.State().String(),
			Controlling: deps.Worker.Controlling(),
			Cache: cachePayload{
				Version:    deps.Cache.Version(),
				Namespaces: namespaces,
			},
			Queue:   counts,
			Clients: deps.Hub.Clients(),
		}
		if lastErr := deps.Worker.LastError(); lastErr != nil {
			payload.LastError = lastErr.Error()
		}
		if report, ok := deps.Sync.LastReport(); ok {
			payload.LastSync = &report
		}
		return c.JSON(payload)
	}
}

func queueHandler(deps Dependencies) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx := c.Context()
		counts, err := deps.Queue.Counts(ctx)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
		}

		payload := queuePayload{Pending: make(map[string][]queue.Mutation, len(counts))}
		for name := range counts {
			pending, err := deps.Queue.Pending(ctx, name)
			if err != nil {
				return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
			}
			payload.Pending[name] = pending
		}
		dead, err := deps.Queue.DeadLetters(ctx)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "queue_unavailable")
		}
		payload.DeadLetters = dead
		return c.JSON(payload)
	}
}
