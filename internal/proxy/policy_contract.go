package proxy

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/server"
)

// PolicyHandler 负责处理某一策略下的请求。
type PolicyHandler interface {
	Serve(c fiber.Ctx, route *server.Route, decision classify.Decision) error
}

// PolicyHandlerFunc 把普通函数适配为 PolicyHandler。
type PolicyHandlerFunc func(fiber.Ctx, *server.Route, classify.Decision) error

// Serve 实现 PolicyHandler。
func (f PolicyHandlerFunc) Serve(c fiber.Ctx, route *server.Route, decision classify.Decision) error {
	return f(c, route, decision)
}

// PolicyRegistration 描述策略与处理器的绑定关系。
type PolicyRegistration struct {
	Policy  classify.Policy
	Handler PolicyHandler
}

var (
	errNilPolicyHandler = errors.New("policy handler is nil")
	errUnknownPolicy    = errors.New("unknown policy")
)

// Validate 校验注册信息。
func (r PolicyRegistration) Validate() error {
	if r.Handler == nil {
		return fmt.Errorf("%w: %s", errNilPolicyHandler, r.Policy)
	}
	if r.Policy < classify.PolicyNetworkOnly || r.Policy > classify.PolicyCriticalWrite {
		return fmt.Errorf("%w: %d", errUnknownPolicy, int(r.Policy))
	}
	return nil
}
