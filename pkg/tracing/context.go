package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName 本模块使用的 Tracer 名称
const TracerName = "github.com/tokmz/wspipe"

// 管线 Span 属性
const (
	AttrConnID     = attribute.Key("ws.conn_id")
	AttrChannel    = attribute.Key("ws.channel")
	AttrOrigin     = attribute.Key("ws.origin")
	AttrMessageID  = attribute.Key("ws.msg_id")
	AttrFrameSize  = attribute.Key("ws.frame_size")
	AttrRecipients = attribute.Key("ws.recipients")
	AttrRemote     = attribute.Key("ws.remote") // 中继投递的广播
)

// StartSpan 从 context.Context 启动新 Span
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, spanName, opts...)
}

// StartAccept 准入流程 Span
func StartAccept(ctx context.Context, connID, channel, origin string) (context.Context, trace.Span) {
	return StartSpan(ctx, "ws.accept",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrConnID.String(connID),
			AttrChannel.String(channel),
			AttrOrigin.String(origin),
		),
	)
}

// StartMessage 入站消息 Span
func StartMessage(ctx context.Context, connID, channel string, size int) (context.Context, trace.Span) {
	return StartSpan(ctx, "ws.message",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrConnID.String(connID),
			AttrChannel.String(channel),
			AttrFrameSize.Int(size),
		),
	)
}

// StartBroadcast 广播 Span，收件人数在发送后通过 EndBroadcast 记录
func StartBroadcast(ctx context.Context, channel string, remote bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "ws.broadcast",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrChannel.String(channel),
			AttrRemote.Bool(remote),
		),
	)
}

// EndBroadcast 记录收件人数并结束 Span
func EndBroadcast(span trace.Span, recipients int) {
	span.SetAttributes(AttrRecipients.Int(recipients))
	span.End()
}

// SetMessageID 为当前 Span 补充消息 ID
func SetMessageID(ctx context.Context, msgID string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrMessageID.String(msgID))
}

// RecordError 记录错误到 Span
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes 批量设置 Span 属性
func SetAttributes(span trace.Span, attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}
	span.SetAttributes(kvs...)
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
