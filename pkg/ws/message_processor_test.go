package ws

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/tokmz/wspipe/pkg/errors"
)

const (
	kindTypeError  errors.Kind = "type_error"
	kindRangeError errors.Kind = "range_error"
)

var (
	errType  = errors.New(kindTypeError, 9001, "unexpected type")
	errRange = errors.New(kindRangeError, 9002, "value out of range")
)

func text(s string) Frame {
	return Frame{Type: TextFrame, Data: []byte(s)}
}

// TestRawPingPong 测试未配置协议时原样解码并回复一帧
func TestRawPingPong(t *testing.T) {
	var content any
	s := newTestServer(t, WithController("chat", func(ctx context.Context, msg *Message) (any, error) {
		content = msg.Content()
		return "pong", nil
	}))
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Dispatch(context.Background(), conn, text(`{"cmd":"ping"}`)))

	assert.Equal(t, []byte(`{"cmd":"ping"}`), content)
	assert.Equal(t, []string{"pong"}, sock.Sent())
	assert.Equal(t, TextFrame, sock.Frames()[0].Type)
}

// TestControllerResolution 测试按频道查找控制器，其次使用 "*"
func TestControllerResolution(t *testing.T) {
	s := newTestServer(t,
		WithController("chat", func(ctx context.Context, msg *Message) (any, error) {
			return "chat", nil
		}),
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			return "default", nil
		}),
	)
	chat, chatSock := mustAccept(t, s, handshake("", "chat"))
	news, newsSock := mustAccept(t, s, handshake("", "news"))

	require.NoError(t, s.Dispatch(context.Background(), chat, text("x")))
	require.NoError(t, s.Dispatch(context.Background(), news, text("x")))

	assert.Equal(t, []string{"chat"}, chatSock.Sent())
	assert.Equal(t, []string{"default"}, newsSock.Sent())
}

// TestNoControllerIsNoop 测试没有控制器时静默消费
func TestNoControllerIsNoop(t *testing.T) {
	log, logs := observedLogger()
	s := newTestServer(t, WithLogger(log))
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Dispatch(context.Background(), conn, text("x")))
	assert.Empty(t, sock.Sent())
	assert.Zero(t, logs.FilterMessage("unhandled exception").Len())
}

// TestNilReplyNotSent 测试控制器返回 nil 时不回复
func TestNilReplyNotSent(t *testing.T) {
	s := newTestServer(t, WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
		return nil, nil
	}))
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Dispatch(context.Background(), conn, text("x")))
	assert.Empty(t, sock.Sent())
}

// TestMessageMiddlewareHalt 测试中间件未调用 next 时控制器不执行且只上报一次拒绝
func TestMessageMiddlewareHalt(t *testing.T) {
	var (
		controllerCalls atomic.Int32
		rejections      atomic.Int32
		wildcardCalls   atomic.Int32
		lastCalls       atomic.Int32
		gotMessage      atomic.Pointer[Message]
	)

	s := newTestServer(t,
		UseMessage("pass", func(ctx context.Context, msg *Message, next NextFunc) error {
			next()
			return nil
		}),
		UseMessage("block", func(ctx context.Context, msg *Message, next NextFunc) error {
			return nil
		}),
		UseMessage("last", func(ctx context.Context, msg *Message, next NextFunc) error {
			lastCalls.Add(1)
			next()
			return nil
		}),
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			controllerCalls.Add(1)
			return "reply", nil
		}),
		OnMessageError(KindMessageRejected, func(ctx context.Context, err error, ec *ExceptionContext) {
			rejections.Add(1)
			gotMessage.Store(ec.Message)
		}),
		OnMessageError(errors.KindAny, func(ctx context.Context, err error, ec *ExceptionContext) {
			wildcardCalls.Add(1)
		}),
	)
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	err := s.Dispatch(context.Background(), conn, text("hello"))
	assert.True(t, errors.Is(err, ErrMessageRejected))
	assert.Zero(t, controllerCalls.Load())
	assert.Zero(t, lastCalls.Load())
	assert.Equal(t, int32(1), rejections.Load())
	assert.Zero(t, wildcardCalls.Load())
	require.NotNil(t, gotMessage.Load())
	assert.Equal(t, "hello", gotMessage.Load().Text())
	assert.Empty(t, sock.Sent())
	assert.True(t, conn.IsOpen())
}

// TestTypedExceptionHandler 测试按错误类别分发，"*" 不被调用
func TestTypedExceptionHandler(t *testing.T) {
	var (
		typed    atomic.Int32
		wildcard atomic.Int32
	)

	s := newTestServer(t,
		WithController("chat", func(ctx context.Context, msg *Message) (any, error) {
			return nil, errType
		}),
		OnMessageError(kindTypeError, func(ctx context.Context, err error, ec *ExceptionContext) {
			typed.Add(1)
			assert.True(t, errors.Is(err, errType))
			require.NotNil(t, ec.Message)
			assert.Equal(t, "boom", ec.Message.Text())
			assert.Same(t, ec.Conn, ec.Message.Conn())
			_ = ec.Message.Reply(ctx, "handled")
		}),
		OnMessageError(errors.KindAny, func(ctx context.Context, err error, ec *ExceptionContext) {
			wildcard.Add(1)
		}),
	)
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	err := s.Dispatch(context.Background(), conn, text("boom"))
	assert.True(t, errors.Is(err, errType))
	assert.Equal(t, int32(1), typed.Load())
	assert.Zero(t, wildcard.Load())
	assert.Equal(t, []string{"handled"}, sock.Sent())
}

// TestWildcardExceptionHandler 测试未匹配类别时使用 "*"
func TestWildcardExceptionHandler(t *testing.T) {
	var wildcard atomic.Int32
	s := newTestServer(t,
		WithController("chat", func(ctx context.Context, msg *Message) (any, error) {
			return nil, fmt.Errorf("plain failure")
		}),
		OnMessageError(errors.KindAny, func(ctx context.Context, err error, ec *ExceptionContext) {
			assert.Equal(t, errors.KindUnknown, errors.KindOf(err))
			wildcard.Add(1)
		}),
	)
	conn, _ := mustAccept(t, s, handshake("", "chat"))

	assert.Error(t, s.Dispatch(context.Background(), conn, text("x")))
	assert.Equal(t, int32(1), wildcard.Load())
}

// TestUnhandledExceptionLogged 测试无处理器时记录日志且连接保持打开
func TestUnhandledExceptionLogged(t *testing.T) {
	log, logs := observedLogger()
	s := newTestServer(t,
		WithLogger(log),
		WithController("chat", func(ctx context.Context, msg *Message) (any, error) {
			return nil, errRange
		}),
		OnMessageError(kindTypeError, func(ctx context.Context, err error, ec *ExceptionContext) {
			t.Error("type handler must not run")
		}),
	)
	conn, _ := mustAccept(t, s, handshake("", "chat"))

	err := s.Dispatch(context.Background(), conn, text("x"))
	assert.True(t, errors.Is(err, errRange))

	entries := logs.FilterMessage("unhandled exception").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "message", fields["scope"])
	assert.Equal(t, string(kindRangeError), fields["kind"])
	assert.Equal(t, conn.ID, fields["conn_id"])
	assert.NotEmpty(t, fields["msg_id"])

	assert.True(t, conn.IsOpen())
	assert.Equal(t, StateTracked, conn.State())
	assert.Equal(t, 1, s.Count())
}

// TestControllerPanic 测试控制器 panic 被恢复并分发
func TestControllerPanic(t *testing.T) {
	var panics atomic.Int32
	s := newTestServer(t,
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			panic("controller exploded")
		}),
		OnMessageError(errors.KindPanic, func(ctx context.Context, err error, ec *ExceptionContext) {
			panics.Add(1)
		}),
	)
	conn, _ := mustAccept(t, s, handshake("", "chat"))

	err := s.Dispatch(context.Background(), conn, text("x"))
	assert.Equal(t, errors.KindPanic, errors.KindOf(err))
	assert.Equal(t, int32(1), panics.Load())
	assert.True(t, conn.IsOpen())
}

// TestExceptionHandlerPanic 测试异常处理器 panic 被恢复
func TestExceptionHandlerPanic(t *testing.T) {
	log, logs := observedLogger()
	s := newTestServer(t,
		WithLogger(log),
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			return nil, errType
		}),
		OnMessageError(kindTypeError, func(ctx context.Context, err error, ec *ExceptionContext) {
			panic("handler exploded")
		}),
	)
	conn, _ := mustAccept(t, s, handshake("", "chat"))

	assert.NotPanics(t, func() {
		_ = s.Dispatch(context.Background(), conn, text("x"))
	})
	assert.Equal(t, 1, logs.FilterMessage("exception handler panicked").Len())
}

// TestDecodeError 测试解码失败时消息为 nil
func TestDecodeError(t *testing.T) {
	var (
		decodeErrors atomic.Int32
		called       atomic.Int32
	)
	s := newTestServer(t,
		WithProtocol(JSONProtocol{}),
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			called.Add(1)
			return msg.Content(), nil
		}),
		OnMessageError(KindDecode, func(ctx context.Context, err error, ec *ExceptionContext) {
			assert.Nil(t, ec.Message)
			assert.NotNil(t, ec.Conn)
			decodeErrors.Add(1)
		}),
	)
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	err := s.Dispatch(context.Background(), conn, text(`{broken`))
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Equal(t, int32(1), decodeErrors.Load())
	assert.Zero(t, called.Load())

	require.NoError(t, s.Dispatch(context.Background(), conn, text(`{"n":1}`)))
	require.Len(t, sock.Sent(), 1)
	assert.JSONEq(t, `{"n":1}`, sock.Sent()[0])
}

// TestMessagesProcessedInOrder 测试同一连接的消息按到达顺序处理
func TestMessagesProcessedInOrder(t *testing.T) {
	var seen []string
	s := newTestServer(t, WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
		seen = append(seen, msg.Text())
		return nil, nil
	}))
	conn, _ := mustAccept(t, s, handshake("", "chat"))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Dispatch(context.Background(), conn, text(fmt.Sprint(i))))
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, seen)
}

// TestMessageFailedEvent 测试消息失败事件
func TestMessageFailedEvent(t *testing.T) {
	s := newTestServer(t, WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
		return nil, errType
	}))
	failed := make(chan Event, 1)
	s.Subscribe(EventMessageFailed, func(e Event) { failed <- e })

	conn, _ := mustAccept(t, s, handshake("", "chat"))
	_ = s.Dispatch(context.Background(), conn, text("x"))

	select {
	case e := <-failed:
		assert.Equal(t, conn.ID, e.ConnID)
		assert.True(t, errors.Is(e.Err, errType))
	case <-time.After(time.Second):
		t.Fatal("message.failed not published")
	}
}
