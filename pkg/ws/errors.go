package ws

import "github.com/tokmz/wspipe/pkg/errors"

// 错误类别
const (
	// 准入错误（连接异常处理器）
	KindOriginRejected      errors.Kind = "origin_rejected"
	KindChannelRejected     errors.Kind = "channel_rejected"
	KindUnauthorized        errors.Kind = "unauthorized"
	KindConnectionRejected  errors.Kind = "connection_rejected"
	KindTooManyConnections  errors.Kind = "too_many_connections"
	KindDuplicateConnection errors.Kind = "duplicate_connection"

	// 消息错误（消息异常处理器）
	KindDecode          errors.Kind = "decode"
	KindMessageRejected errors.Kind = "message_rejected"
	KindHandlerNotFound errors.Kind = "handler_not_found"
	KindInvalidMessage  errors.Kind = "invalid_message"

	// 传输错误（返回给调用方）
	KindNotOpen          errors.Kind = "not_open"
	KindConnectionClosed errors.Kind = "connection_closed"
	KindSerialization    errors.Kind = "serialization"
)

// 错误定义
var (
	ErrOriginRejected      = errors.New(KindOriginRejected, 4001, "ws: origin not allowed")
	ErrAnonymousOrigin     = errors.New(KindOriginRejected, 4002, "ws: anonymous origin not allowed")
	ErrChannelRejected     = errors.New(KindChannelRejected, 4003, "ws: channel not allowed")
	ErrUnauthorized        = errors.New(KindUnauthorized, 4004, "ws: unauthorized")
	ErrConnectionRejected  = errors.New(KindConnectionRejected, 4005, "ws: connection rejected by middleware")
	ErrTooManyConnections  = errors.New(KindTooManyConnections, 4006, "ws: too many connections", errors.CloseTryAgainLater)
	ErrClientIDExists      = errors.New(KindDuplicateConnection, 4007, "ws: connection id already exists", errors.CloseInternalError)
	ErrHeartbeatTimeout    = errors.New(KindConnectionClosed, 4008, "ws: heartbeat timeout", errors.CloseGoingAway)
	ErrServerShuttingDown  = errors.New(KindConnectionClosed, 4009, "ws: server shutting down", errors.CloseGoingAway)
	ErrDecode              = errors.New(KindDecode, 4101, "ws: decode failed", errors.CloseUnsupportedData)
	ErrMessageRejected     = errors.New(KindMessageRejected, 4102, "ws: message rejected by middleware")
	ErrHandlerNotFound     = errors.New(KindHandlerNotFound, 4103, "ws: handler not found")
	ErrInvalidMessage      = errors.New(KindInvalidMessage, 4104, "ws: invalid message format", errors.CloseUnsupportedData)
	ErrNotOpen             = errors.New(KindNotOpen, 4201, "ws: connection not open")
	ErrConnectionClosed    = errors.New(KindConnectionClosed, 4202, "ws: connection closed")
	ErrSerialization       = errors.New(KindSerialization, 4203, "ws: serialization failed", errors.CloseInternalError)
	ErrInvalidConfig       = errors.ErrInvalidConfig
)
