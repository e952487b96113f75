package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/domain"
	"github.com/any-hub/offline-hub/internal/notify"
)

// messageHandler 接收 UI 的 SKIP_WAITING / FORCE_SYNC / CLEAR_CACHE。
// FORCE_SYNC 同步执行，响应在回放结束后返回，结果同时经 /-/events 广播。
func messageHandler(deps Dependencies) fiber.Handler {
	return func(c fiber.Ctx) error {
		msg, err := notify.ParseInbound(c.Body())
		if err != nil {
			deps.Logger.WithError(err).WithField("action", "message").Warn("message_rejected")
			return writeError(c, fiber.StatusBadRequest, "invalid_message")
		}
		if err := deps.Worker.HandleMessage(c.Context(), msg); err != nil {
			deps.Logger.WithError(err).WithFields(logrus.Fields{
				"action": "message",
				"type":   msg.Type,
			}).Error("message_failed")
			return writeError(c, fiber.StatusInternalServerError, "message_failed")
		}
		return c.JSON(fiber.Map{"success": true, "type": msg.Type})
	}
}

// syncHandler 对应宿主触发的后台同步事件，标签形如 sync-sales 或 sync-all。
func syncHandler(deps Dependencies) fiber.Handler {
	return func(c fiber.Ctx) error {
		tag := c.Params("tag")
		report, err := deps.Sync.HandleTag(c.Context(), tag)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownTag) {
				return writeError(c, fiber.StatusNotFound, "unknown_sync_tag")
			}
			deps.Logger.WithError(err).WithFields(logrus.Fields{
				"action": "sync",
				"tag":    tag,
			}).Error("sync_failed")
			return writeError(c, fiber.StatusInternalServerError, "sync_failed")
		}
		return c.JSON(report)
	}
}
