package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	connIDKey  contextKey = "conn_id"
	channelKey contextKey = "channel"
	msgIDKey   contextKey = "msg_id"
)

// WithConnection 将连接 ID 与频道写入 Context
func WithConnection(ctx context.Context, connID, channel string) context.Context {
	ctx = context.WithValue(ctx, connIDKey, connID)
	return context.WithValue(ctx, channelKey, channel)
}

// WithMessageID 将消息 ID 写入 Context
func WithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, msgIDKey, msgID)
}

// ConnIDFromContext 读取连接 ID
func ConnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey).(string)
	return id
}

// contextFields 从 context.Context 提取字段
func contextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+5)

	if id, ok := ctx.Value(connIDKey).(string); ok && id != "" {
		out = append(out, zap.String("conn_id", id))
	}
	if ch, ok := ctx.Value(channelKey).(string); ok && ch != "" {
		out = append(out, zap.String("channel", ch))
	}
	if id, ok := ctx.Value(msgIDKey).(string); ok && id != "" {
		out = append(out, zap.String("msg_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return append(out, fields...)
}
