package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/tracing"
)

// MessageProcessor 入站消息管线：解码 → 中间件 → 控制器 → 回复
type MessageProcessor struct {
	protocol    Protocol
	chain       *Chain[*Message]
	controllers map[string]Controller
	exceptions  *ExceptionProcessor
	hub         hub
	events      *EventBus
	logger      logger.Logger
	metrics     Metrics
}

// newMessageProcessor 创建消息处理器
func newMessageProcessor(
	cfg MessageConfig,
	exceptions *ExceptionProcessor,
	h hub,
	events *EventBus,
	log logger.Logger,
	metrics Metrics,
) (*MessageProcessor, error) {
	chain, err := NewChain(cfg.Middlewares...)
	if err != nil {
		return nil, err
	}

	controllers := make(map[string]Controller, len(cfg.Controllers))
	for channel, fn := range cfg.Controllers {
		if fn == nil {
			return nil, configError("controller for channel %q is nil", channel)
		}
		controllers[channel] = fn
	}

	return &MessageProcessor{
		protocol:    cfg.Protocol,
		chain:       chain,
		controllers: controllers,
		exceptions:  exceptions,
		hub:         h,
		events:      events,
		logger:      log,
		metrics:     metrics,
	}, nil
}

// Process 处理一帧入站数据
//
// 所有错误都会交给消息异常处理器，并返回给调用方供参考。
func (p *MessageProcessor) Process(ctx context.Context, conn *Connection, frame Frame) error {
	start := time.Now()
	channel := conn.Channel()

	ctx = logger.WithConnection(ctx, conn.ID, channel)
	ctx, span := tracing.StartMessage(ctx, conn.ID, channel, len(frame.Data))
	defer span.End()

	p.metrics.IncrementMessageCount(channel)
	msg, err := p.process(ctx, conn, frame)
	p.metrics.RecordMessageLatency(channel, time.Since(start))

	if err == nil {
		return nil
	}

	tracing.RecordError(span, err)
	kind := errors.KindOf(err)
	p.metrics.IncrementMessageErrors(string(kind))
	p.events.Publish(Event{Type: EventMessageFailed, ConnID: conn.ID, Channel: channel, Err: err})

	if msg != nil {
		ctx = logger.WithMessageID(ctx, msg.ID)
	}
	p.logger.DebugContext(ctx, "message failed", zap.String("kind", string(kind)), zap.Error(err))
	p.exceptions.Handle(ctx, err, &ExceptionContext{Conn: conn, Message: msg})
	return err
}

// process 执行管线，返回已构造的消息（解码失败时为 nil）
func (p *MessageProcessor) process(ctx context.Context, conn *Connection, frame Frame) (*Message, error) {
	content, err := p.decode(frame)
	if err != nil {
		return nil, err
	}

	msg := newMessage(p.hub, conn, frame, content)
	ctx = logger.WithMessageID(ctx, msg.ID)
	tracing.SetMessageID(ctx, msg.ID)
	p.events.Publish(Event{Type: EventMessageReceived, ConnID: conn.ID, Channel: conn.Channel(), Data: msg.ID})

	completed, err := p.chain.Run(ctx, msg)
	if err != nil {
		return msg, err
	}
	if !completed {
		return msg, ErrMessageRejected
	}

	controller := p.resolve(conn.Channel())
	if controller == nil {
		p.logger.DebugContext(ctx, "no controller for channel")
		return msg, nil
	}

	reply, err := p.invoke(ctx, controller, msg)
	if err != nil {
		return msg, err
	}
	if reply != nil {
		if err := msg.Reply(ctx, reply); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// decode 协议解码，未配置协议时返回原始数据
func (p *MessageProcessor) decode(frame Frame) (content any, err error) {
	if p.protocol == nil {
		return frame.Data, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = ErrDecode.WithError(recoverError(r))
		}
	}()

	content, err = p.protocol.Unwrap(frame.Data)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, ErrDecode.WithError(err)
	}
	return content, nil
}

// resolve 按频道查找控制器，其次使用 "*"
func (p *MessageProcessor) resolve(channel string) Controller {
	if c, ok := p.controllers[channel]; ok {
		return c
	}
	return p.controllers[Wildcard]
}

// invoke 调用控制器并恢复 panic
func (p *MessageProcessor) invoke(ctx context.Context, controller Controller, msg *Message) (reply any, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = recoverError(r)
		}
	}()
	return controller(ctx, msg)
}
