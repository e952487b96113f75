package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/notify"
)

const keepaliveInterval = 25 * time.Second

// eventsHandler 以 Server-Sent Events 推送 SYNC_COMPLETE。
// 每个连接对应一个订阅，连接断开后写入失败即退出并取消订阅。
func eventsHandler(deps Dependencies) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set("X-Accel-Buffering", "no")

		events, cancel := deps.Hub.Subscribe()
		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			if err := streamEvents(w, events, keepaliveInterval); err != nil {
				deps.Logger.WithError(err).WithField("action", "events").Debug("subscriber_disconnected")
			}
		})
	}
}

// streamEvents 持续写出事件直到 events 被关闭或写入失败。
func streamEvents(w *bufio.Writer, events <-chan notify.Outbound, keepalive time.Duration) error {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	if err := writeComment(w, "connected"); err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := writeComment(w, "keepalive"); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, msg notify.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}
