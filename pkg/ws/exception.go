package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
)

// ExceptionContext 异常发生时的上下文
type ExceptionContext struct {
	Conn    *Connection
	Message *Message // 消息异常且消息已构造时非 nil
}

// ExceptionHandler 异常处理函数
type ExceptionHandler func(ctx context.Context, err error, ec *ExceptionContext)

// ExceptionProcessor 按错误类别分发异常
type ExceptionProcessor struct {
	scope    string
	handlers map[errors.Kind]ExceptionHandler
	logger   logger.Logger
}

// NewExceptionProcessor 创建异常处理器
// scope 用于日志区分（如 "connection"、"message"）
func NewExceptionProcessor(scope string, cfg ExceptionConfig, log logger.Logger) (*ExceptionProcessor, error) {
	if log == nil {
		log = logger.NewNop()
	}
	handlers := make(map[errors.Kind]ExceptionHandler, len(cfg.Handlers))
	for kind, fn := range cfg.Handlers {
		if fn == nil {
			return nil, configError("%s exception handler for %q is nil", scope, kind)
		}
		handlers[kind] = fn
	}

	return &ExceptionProcessor{
		scope:    scope,
		handlers: handlers,
		logger:   log.With(zap.String("scope", scope)),
	}, nil
}

// Handle 分发错误，返回是否有处理器接收
//
// 先按类别查找，再查找 "*"；都没有时记录错误日志后继续。
func (p *ExceptionProcessor) Handle(ctx context.Context, err error, ec *ExceptionContext) bool {
	if err == nil {
		return false
	}
	if ec == nil {
		ec = &ExceptionContext{}
	}

	kind := errors.KindOf(err)
	handler, ok := p.handlers[kind]
	if !ok {
		handler, ok = p.handlers[errors.KindAny]
	}
	if !ok {
		p.logger.ErrorContext(ctx, "unhandled exception", p.fields(ctx, err, kind, ec)...)
		return false
	}

	p.invoke(ctx, handler, err, ec, kind)
	return true
}

// invoke 调用处理器并恢复 panic
func (p *ExceptionProcessor) invoke(ctx context.Context, handler ExceptionHandler, err error, ec *ExceptionContext, kind errors.Kind) {
	defer func() {
		if r := recover(); r != nil {
			fields := append(p.fields(ctx, err, kind, ec), zap.Any("panic", r))
			p.logger.ErrorContext(ctx, "exception handler panicked", fields...)
		}
	}()
	handler(ctx, err, ec)
}

func (p *ExceptionProcessor) fields(ctx context.Context, err error, kind errors.Kind, ec *ExceptionContext) []zap.Field {
	fields := []zap.Field{zap.Error(err), zap.String("kind", string(kind))}
	if ec.Conn != nil && logger.ConnIDFromContext(ctx) == "" {
		fields = append(fields, zap.String("conn_id", ec.Conn.ID), zap.String("channel", ec.Conn.Channel()))
	}
	if ec.Message != nil {
		fields = append(fields, zap.String("msg_id", ec.Message.ID))
	}
	return fields
}
