package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/domain"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/queue"
)

// Enqueuer 持久化待回放写入，*queue.Store 即满足该接口。
type Enqueuer interface {
	Enqueue(ctx context.Context, m queue.Mutation) (queue.Mutation, error)
}

// Scheduler 登记后台同步标签，*syncer.Poller 即满足该接口。
type Scheduler interface {
	Register(tag string)
}

// QueuedMessage 是离线受理响应中的提示文案。
const QueuedMessage = "Saved offline. It will be sent automatically when the connection returns."

// QueuedResponse 是离线受理时返回给页面的 JSON。
type QueuedResponse struct {
	Success bool   `json:"success"`
	Offline bool   `json:"offline"`
	Queued  bool   `json:"queued"`
	Message string `json:"message"`
	QueueID int64  `json:"queue_id"`
	Domain  string `json:"domain"`
}

// OfflineWriter 处理关键写入：优先直连网络，传输失败时入队并返回 202。
type OfflineWriter struct {
	client    Fetcher
	queue     Enqueuer
	scheduler Scheduler
	logger    *logrus.Logger
}

// NewOfflineWriter 构建关键写入处理器。scheduler 可为空，此时仅入队等待下一轮轮询。
func NewOfflineWriter(client Fetcher, q Enqueuer, scheduler Scheduler, logger *logrus.Logger) *OfflineWriter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &OfflineWriter{client: client, queue: q, scheduler: scheduler, logger: logger}
}

// Write 发送请求；成功时原样透传上游响应（包括 4xx/5xx）。
// 只有传输层失败才会入队，入队失败时返回原始的 *UpstreamError。
func (w *OfflineWriter) Write(ctx context.Context, req *http.Request, domainName string, body []byte) (*Outcome, error) {
	resp, err := w.client.Do(req)
	if err == nil {
		return fromResponse(resp, ""), nil
	}
	upstreamErr := &UpstreamError{Err: err}

	mutation := queue.Capture(domainName, req.Method, req.URL.String(), req.Header, body)
	stored, qErr := w.queue.Enqueue(context.WithoutCancel(ctx), mutation)
	if qErr != nil {
		w.logger.WithError(qErr).
			WithFields(logging.MutationFields(domainName, 0, req.Method, req.URL.String())).
			Error("enqueue_failed")
		return nil, upstreamErr
	}

	w.logger.WithFields(logging.MutationFields(stored.Domain, stored.ID, stored.Method, stored.TargetURL)).
		WithField("reason", err.Error()).
		Info("mutation_queued")

	if w.scheduler != nil {
		w.scheduler.Register(domain.TagPrefix + stored.Domain)
	}

	payload, mErr := json.Marshal(QueuedResponse{
		Success: true,
		Offline: true,
		Queued:  true,
		Message: QueuedMessage,
		QueueID: stored.ID,
		Domain:  stored.Domain,
	})
	if mErr != nil {
		return nil, mErr
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderOfflineQueued, "true")
	return &Outcome{
		Status: http.StatusAccepted,
		Header: header,
		Body:   io.NopCloser(strings.NewReader(string(payload))),
	}, nil
}
