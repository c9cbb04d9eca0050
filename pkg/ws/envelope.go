package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeType 信封类型
type EnvelopeType string

const (
	// EnvelopeRequest 请求消息
	EnvelopeRequest EnvelopeType = "request"
	// EnvelopeResponse 响应消息
	EnvelopeResponse EnvelopeType = "response"
	// EnvelopeNotify 通知消息（无需响应）
	EnvelopeNotify EnvelopeType = "notify"
	// EnvelopeError 错误消息
	EnvelopeError EnvelopeType = "error"
)

// Envelope 事件协议信封
type Envelope struct {
	// Type 消息类型
	Type EnvelopeType `json:"type"`

	// Event 事件名称（如 "chat.send", "user.login"）
	Event string `json:"event"`

	// RequestID 请求 ID（用于请求-响应匹配）
	RequestID string `json:"request_id,omitempty"`

	// Data 消息数据（JSON）
	Data json.RawMessage `json:"data,omitempty"`

	// Timestamp 时间戳
	Timestamp int64 `json:"timestamp"`
}

// Response 响应信封
type Response struct {
	Type      EnvelopeType `json:"type"`
	RequestID string       `json:"request_id"`
	Code      int          `json:"code"`
	Message   string       `json:"message"`
	Data      any          `json:"data,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// ErrorResponse 错误信封
type ErrorResponse struct {
	Type      EnvelopeType `json:"type"`
	RequestID string       `json:"request_id,omitempty"`
	Code      int          `json:"code"`
	Message   string       `json:"message"`
	TraceID   string       `json:"trace_id,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// NewRequest 创建请求信封
func NewRequest(event string, data any) (*Envelope, error) {
	return newEnvelope(EnvelopeRequest, event, uuid.NewString(), data)
}

// NewNotify 创建通知信封
func NewNotify(event string, data any) (*Envelope, error) {
	return newEnvelope(EnvelopeNotify, event, "", data)
}

func newEnvelope(typ EnvelopeType, event, requestID string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      typ,
		Event:     event,
		RequestID: requestID,
		Data:      raw,
		Timestamp: time.Now().Unix(),
	}, nil
}

// NewResponse 创建响应
func NewResponse(requestID string, code int, message string, data any) *Response {
	return &Response{
		Type:      EnvelopeResponse,
		RequestID: requestID,
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(requestID string, code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:      EnvelopeError,
		RequestID: requestID,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
}

// Unmarshal 解析信封数据
func (e *Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// EventProtocol 入站内容解码为 *Envelope
type EventProtocol struct{}

// Unwrap 实现 Protocol
func (EventProtocol) Unwrap(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, ErrInvalidMessage
	}
	if env.Type == "" {
		env.Type = EnvelopeRequest
	}
	return &env, nil
}

// Wrap 实现 Protocol
func (EventProtocol) Wrap(v any) (any, error) {
	switch x := v.(type) {
	case []byte, string:
		return x, nil
	}
	return json.Marshal(v)
}
