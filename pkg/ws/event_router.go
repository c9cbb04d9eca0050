package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// EventHandlerFunc 按事件名分发的处理函数
type EventHandlerFunc func(ctx context.Context, msg *Message, env *Envelope) (any, error)

// EventRouter 按信封事件名分发的控制器
type EventRouter struct {
	handlers map[string]EventHandlerFunc
	mu       sync.RWMutex
}

// NewEventRouter 创建事件路由器
func NewEventRouter() *EventRouter {
	return &EventRouter{
		handlers: make(map[string]EventHandlerFunc),
	}
}

// Register 注册处理函数
func (r *EventRouter) Register(event string, handler EventHandlerFunc) error {
	if event == "" || handler == nil {
		return configError("event router: empty event or nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[event]; exists {
		return configError("event router: handler for %q already registered", event)
	}
	r.handlers[event] = handler
	return nil
}

// Events 已注册的事件数
func (r *EventRouter) Events() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Controller 返回可注册到频道的控制器
func (r *EventRouter) Controller() Controller {
	return r.route
}

// route 路由消息
func (r *EventRouter) route(ctx context.Context, msg *Message) (any, error) {
	env, ok := msg.Envelope()
	if !ok {
		// 未使用 EventProtocol 时直接解析原始数据
		env = &Envelope{}
		if err := json.Unmarshal(msg.Raw(), env); err != nil {
			return nil, ErrInvalidMessage.WithError(err)
		}
		if env.Event == "" {
			return nil, ErrInvalidMessage
		}
	}

	r.mu.RLock()
	handler, exists := r.handlers[env.Event]
	r.mu.RUnlock()
	if !exists {
		return nil, ErrHandlerNotFound.WithError(fmt.Errorf("event %q", env.Event))
	}
	return handler(ctx, msg, env)
}

// HandlerFunc 泛型处理器函数（有请求有响应）
type HandlerFunc[Req any, Resp any] func(ctx context.Context, msg *Message, req *Req) (*Resp, error)

// HandlerFunc0 泛型处理器函数（有请求无响应）
type HandlerFunc0[Req any] func(ctx context.Context, msg *Message, req *Req) error

// HandlerFuncOnly 泛型处理器函数（无请求有响应）
type HandlerFuncOnly[Resp any] func(ctx context.Context, msg *Message) (*Resp, error)

// Handle 注册泛型处理器（有请求有响应）
//
// 请求数据解析失败时回复 400 错误信封；处理器返回的错误交给消息异常处理器。
func Handle[Req any, Resp any](router *EventRouter, event string, handler HandlerFunc[Req, Resp]) error {
	return router.Register(event, func(ctx context.Context, msg *Message, env *Envelope) (any, error) {
		var req Req
		if err := env.Unmarshal(&req); err != nil {
			return NewErrorResponse(env.RequestID, 400, "invalid request data"), nil
		}

		resp, err := handler(ctx, msg, &req)
		if err != nil {
			return nil, err
		}
		return respond(env, resp), nil
	})
}

// Handle0 注册泛型处理器（有请求无响应）
func Handle0[Req any](router *EventRouter, event string, handler HandlerFunc0[Req]) error {
	return router.Register(event, func(ctx context.Context, msg *Message, env *Envelope) (any, error) {
		var req Req
		if err := env.Unmarshal(&req); err != nil {
			return NewErrorResponse(env.RequestID, 400, "invalid request data"), nil
		}

		if err := handler(ctx, msg, &req); err != nil {
			return nil, err
		}
		return respond(env, nil), nil
	})
}

// HandleOnly 注册泛型处理器（无请求有响应）
func HandleOnly[Resp any](router *EventRouter, event string, handler HandlerFuncOnly[Resp]) error {
	return router.Register(event, func(ctx context.Context, msg *Message, env *Envelope) (any, error) {
		resp, err := handler(ctx, msg)
		if err != nil {
			return nil, err
		}
		return respond(env, resp), nil
	})
}

// respond 通知消息不回复，请求消息回复成功信封
func respond(env *Envelope, data any) any {
	if env.Type == EnvelopeNotify {
		return nil
	}
	return NewResponse(env.RequestID, 200, "success", data)
}
