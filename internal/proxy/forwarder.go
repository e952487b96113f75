package proxy

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// RuleNotControlling 出现在日志的 rule 字段中，表示 worker 尚未接管请求。
const RuleNotControlling = "not-controlling"

// Classifier 为请求选定策略，*classify.Classifier 即满足该接口。
type Classifier interface {
	Classify(req classify.Request) classify.Decision
}

// Gate 报告 worker 是否已接管客户端，*worker.Worker 即满足该接口。
type Gate interface {
	Controlling() bool
}

// Forwarder 对请求分类后选择对应策略的 PolicyHandler。
// 激活之前所有请求都按 network-only 直接透传。
type Forwarder struct {
	classifier Classifier
	gate       Gate
	logger     *logrus.Logger

	mu       sync.RWMutex
	handlers map[classify.Policy]PolicyHandler
}

// NewForwarder 创建 Forwarder。gate 为空时视为始终已接管。
func NewForwarder(classifier Classifier, gate Gate, logger *logrus.Logger) *Forwarder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Forwarder{
		classifier: classifier,
		gate:       gate,
		logger:     logger,
		handlers:   make(map[classify.Policy]PolicyHandler),
	}
}

// Register 绑定策略处理器，重复注册时后者覆盖前者。
func (f *Forwarder) Register(reg PolicyRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.handlers[reg.Policy] = reg.Handler
	f.mu.Unlock()
	return nil
}

// MustRegister 与 Register 相同，但在参数非法时 panic，便于启动阶段使用。
func (f *Forwarder) MustRegister(reg PolicyRegistration) {
	if err := f.Register(reg); err != nil {
		panic(err)
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.Route) error {
	requestID := server.RequestID(c)
	decision := f.decide(c, route)

	handler := f.lookup(decision.Policy)
	if handler == nil {
		return f.respondMissingHandler(c, decision, requestID)
	}
	return f.invokeHandler(c, route, decision, handler, requestID)
}

func (f *Forwarder) decide(c fiber.Ctx, route *server.Route) classify.Decision {
	if f.gate != nil && !f.gate.Controlling() {
		return classify.Decision{Policy: classify.PolicyNetworkOnly, Rule: RuleNotControlling}
	}
	req := classify.Request{Method: c.Method()}
	if route != nil {
		req.Path = route.Path
		req.URL = route.BareURL()
	}
	return f.classifier.Classify(req)
}

func (f *Forwarder) lookup(policy classify.Policy) PolicyHandler {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.handlers[policy]
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, decision classify.Decision, requestID string) error {
	f.logPolicyError(c, decision, "policy_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "policy_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.Route, decision classify.Decision, handler PolicyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, decision, r, requestID)
		}
	}()
	return handler.Serve(c, route, decision)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, decision classify.Decision, recovered interface{}, requestID string) error {
	f.logPolicyError(c, decision, "policy_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "policy_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logPolicyError(c fiber.Ctx, decision classify.Decision, code string, err error, requestID string) {
	fields := logging.RequestFields(c.Method(), c.Path(), decision.Policy.String(), decision.Rule, "")
	fields["action"] = "proxy"
	fields["error"] = code
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("policy handler unavailable")
}
