package app

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/ws"
)

// PublishRequest 频道内发布
type PublishRequest struct {
	Tags []string        `json:"tags,omitempty"` // 仅发送给拥有全部标签的连接
	Data json.RawMessage `json:"data"`
}

// Presence 频道在线情况
type Presence struct {
	Channel string `json:"channel"`
	Online  int    `json:"online"`
}

// 事件名
const (
	EventEcho     = "echo"
	EventPublish  = "publish"
	EventPresence = "presence"
	EventMessage  = "message" // publish 推送给其他连接的通知
)

// newRouter 注册内置事件
func newRouter(clients func(channel string) []*ws.Connection) (*ws.EventRouter, error) {
	router := ws.NewEventRouter()

	if err := ws.Handle[json.RawMessage, json.RawMessage](router, EventEcho, func(ctx context.Context, msg *ws.Message, req *json.RawMessage) (*json.RawMessage, error) {
		return req, nil
	}); err != nil {
		return nil, err
	}

	if err := ws.Handle0[PublishRequest](router, EventPublish, func(ctx context.Context, msg *ws.Message, req *PublishRequest) error {
		notify, err := ws.NewNotify(EventMessage, req.Data)
		if err != nil {
			return ws.ErrInvalidMessage.WithError(err)
		}
		return msg.ReplyToChannel(ctx, notify, req.Tags...)
	}); err != nil {
		return nil, err
	}

	if err := ws.HandleOnly[Presence](router, EventPresence, func(ctx context.Context, msg *ws.Message) (*Presence, error) {
		channel := msg.Channel()
		return &Presence{Channel: channel, Online: len(clients(channel))}, nil
	}); err != nil {
		return nil, err
	}
	return router, nil
}

// replyError 消息异常时向发送方回复错误信封
func replyError(send func(ctx context.Context, conn *ws.Connection, v any) error, log logger.Logger) ws.ExceptionHandler {
	return func(ctx context.Context, err error, ec *ws.ExceptionContext) {
		if ec.Conn == nil || !ec.Conn.IsOpen() {
			return
		}

		code, text := 500, "internal error"
		var e *errors.Error
		if errors.As(err, &e) {
			code, text = e.Code, e.Message
		}

		requestID := ""
		if ec.Message != nil {
			if env, ok := ec.Message.Envelope(); ok {
				requestID = env.RequestID
			}
		}

		if err := send(ctx, ec.Conn, ws.NewErrorResponse(requestID, code, text)); err != nil {
			log.WarnContext(ctx, "error reply failed", zap.Error(err))
		}
	}
}

// tagAuthorizer 将握手参数 tag 作为连接标签
func tagAuthorizer(ctx context.Context, conn *ws.Connection, channel string) (bool, error) {
	if tags := conn.Handshake().Query["tag"]; len(tags) > 0 {
		conn.AddTags(tags...)
	}
	return true, nil
}
