package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// HeaderUpstream 回显本次请求实际访问（或缓存键对应）的上游地址。
const HeaderUpstream = "X-Offline-Hub-Upstream"

// HandlerOptions 汇总代理处理器的依赖。
type HandlerOptions struct {
	Client    Fetcher
	Cache     CacheStore
	Queue     Enqueuer
	Scheduler Scheduler
	Logger    *logrus.Logger
}

// Handler 负责把 Fiber 请求转换为上游请求，交给对应策略执行后再写回响应。
type Handler struct {
	strategies *Strategies
	writer     *OfflineWriter
	logger     *logrus.Logger
}

// runner 执行某一策略，body 是已缓冲的请求正文。
type runner func(ctx context.Context, req *http.Request, decision classify.Decision, body []byte) (*Outcome, error)

// NewHandler constructs a proxy handler with shared HTTP client/logger/cache/queue.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		strategies: NewStrategies(opts.Client, opts.Cache, logger),
		writer:     NewOfflineWriter(opts.Client, opts.Queue, opts.Scheduler, logger),
		logger:     logger,
	}, nil
}

// Bind 为每种策略注册处理器。dynamic 与 network-only 共用直连路径，从不读写缓存。
func (h *Handler) Bind(f *Forwarder) error {
	networkOnly := func(ctx context.Context, req *http.Request, _ classify.Decision, _ []byte) (*Outcome, error) {
		return h.strategies.NetworkOnly(ctx, req)
	}
	regs := []PolicyRegistration{
		{Policy: classify.PolicyNetworkOnly, Handler: h.policy(networkOnly)},
		{Policy: classify.PolicyDynamic, Handler: h.policy(networkOnly)},
		{Policy: classify.PolicyCacheFirst, Handler: h.policy(func(ctx context.Context, req *http.Request, _ classify.Decision, _ []byte) (*Outcome, error) {
			return h.strategies.CacheFirst(ctx, req)
		})},
		{Policy: classify.PolicyNetworkFallback, Handler: h.policy(func(ctx context.Context, req *http.Request, _ classify.Decision, _ []byte) (*Outcome, error) {
			return h.strategies.NetworkFallback(ctx, req)
		})},
		{Policy: classify.PolicyCriticalWrite, Handler: h.policy(func(ctx context.Context, req *http.Request, decision classify.Decision, body []byte) (*Outcome, error) {
			return h.writer.Write(ctx, req, decision.Domain, body)
		})},
	}
	for _, reg := range regs {
		if err := f.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) policy(run runner) PolicyHandler {
	return PolicyHandlerFunc(func(c fiber.Ctx, route *server.Route, decision classify.Decision) error {
		return h.serve(c, route, decision, run)
	})
}

func (h *Handler) serve(c fiber.Ctx, route *server.Route, decision classify.Decision, run runner) error {
	started := time.Now()
	requestID := server.RequestID(c)
	if route == nil || route.Target == nil {
		return h.writeError(c, fiber.StatusInternalServerError, "route_unresolved")
	}
	upstream := route.Target.String()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	body := append([]byte(nil), c.Body()...)
	req, err := buildUpstreamRequest(ctx, c, route, body)
	if err != nil {
		h.logResult(c, decision, upstream, requestID, nil, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	outcome, err := run(ctx, req, decision, body)
	if err != nil {
		h.logResult(c, decision, upstream, requestID, nil, started, err)
		if errors.Is(err, ErrOffline) {
			return h.writeError(c, fiber.StatusServiceUnavailable, "offline")
		}
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer outcome.Close()

	copyResponseHeaders(c, outcome.Header)
	c.Set(HeaderUpstream, upstream)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(outcome.Status)

	if c.Method() == http.MethodHead || outcome.Body == nil {
		h.logResult(c, decision, upstream, requestID, outcome, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), outcome.Body)
	h.logResult(c, decision, upstream, requestID, outcome, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// buildUpstreamRequest 复制客户端请求头（去除逐跳字段），并指向 route.Target。
func buildUpstreamRequest(ctx context.Context, c fiber.Ctx, route *server.Route, body []byte) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), route.Target.String(), reader)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = route.Target.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	c fiber.Ctx,
	decision classify.Decision,
	upstream string,
	requestID string,
	outcome *Outcome,
	started time.Time,
	err error,
) {
	fields := resultFields(c.Method(), c.Path(), decision, outcome)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if decision.Domain != "" {
		fields["domain"] = decision.Domain
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// resultFields 汇总一次代理结果的日志字段；返回离线副本时附带 cached_at。
func resultFields(method, path string, decision classify.Decision, outcome *Outcome) logrus.Fields {
	if outcome == nil {
		fields := logging.RequestFields(method, path, decision.Policy.String(), decision.Rule, "")
		fields["upstream_status"] = 0
		return fields
	}
	fields := logging.RequestFields(method, path, decision.Policy.String(), decision.Rule, outcome.Cache)
	fields["upstream_status"] = outcome.Status
	if outcome.Cache == CacheStale {
		if at, ok := cachedAt(outcome.Header); ok {
			fields["cached_at"] = at.UTC().Format(time.RFC3339)
		}
	}
	return fields
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
