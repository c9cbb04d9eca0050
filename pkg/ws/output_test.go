package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wspipe/pkg/errors"
)

// TestReplyToChannelWithTags 测试频道内按标签广播且排除发送方
func TestReplyToChannelWithTags(t *testing.T) {
	s := newTestServer(t,
		WithAuthorizer(Wildcard, tagAuthorizer),
		WithController("lobby", func(ctx context.Context, msg *Message) (any, error) {
			return nil, msg.ReplyToChannel(ctx, "hello vip", "vip")
		}),
	)

	a, aSock := mustAccept(t, s, handshake("", "lobby", "vip"))
	_, bSock := mustAccept(t, s, handshake("", "lobby", "vip", "gold"))
	_, cSock := mustAccept(t, s, handshake("", "lobby"))
	_, dSock := mustAccept(t, s, handshake("", "other", "vip"))
	_, eSock := mustAccept(t, s, handshake("", "lobby", "vip"))
	eSock.setReadyState(ReadyStateClosing)

	require.NoError(t, s.Dispatch(context.Background(), a, text("hi")))

	assert.Empty(t, aSock.Sent())
	assert.Equal(t, []string{"hello vip"}, bSock.Sent())
	assert.Empty(t, cSock.Sent())
	assert.Empty(t, dSock.Sent())
	assert.Empty(t, eSock.Sent())
}

// TestReplyToChannelEmpty 测试接收方为空时正常完成
func TestReplyToChannelEmpty(t *testing.T) {
	var replyErr error
	s := newTestServer(t, WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
		replyErr = msg.ReplyToChannel(ctx, "nobody", "vip")
		return nil, replyErr
	}))
	a, aSock := mustAccept(t, s, handshake("", "solo"))

	require.NoError(t, s.Dispatch(context.Background(), a, text("x")))
	assert.NoError(t, replyErr)
	assert.Empty(t, aSock.Sent())
}

// TestReplyToOthers 测试发送到指定频道或全部频道
func TestReplyToOthers(t *testing.T) {
	target := "news"
	s := newTestServer(t,
		WithAuthorizer(Wildcard, tagAuthorizer),
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			return nil, msg.ReplyToOthers(ctx, "update", target)
		}),
	)
	a, aSock := mustAccept(t, s, handshake("", "chat"))
	_, bSock := mustAccept(t, s, handshake("", "news"))
	_, cSock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Dispatch(context.Background(), a, text("x")))
	assert.Equal(t, []string{"update"}, bSock.Sent())
	assert.Empty(t, cSock.Sent())

	target = AllChannels
	require.NoError(t, s.Dispatch(context.Background(), a, text("x")))
	assert.Empty(t, aSock.Sent())
	assert.Equal(t, []string{"update", "update"}, bSock.Sent())
	assert.Equal(t, []string{"update"}, cSock.Sent())
}

// TestForwardKeepsRawFrame 测试转发保持原始内容与帧类型
func TestForwardKeepsRawFrame(t *testing.T) {
	s := newTestServer(t,
		WithProtocol(JSONProtocol{}),
		WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
			return nil, msg.ForwardToChannel(ctx)
		}),
	)
	a, _ := mustAccept(t, s, handshake("", "chat"))
	_, bSock := mustAccept(t, s, handshake("", "chat"))

	raw := `{"z":1,  "a":2}`
	require.NoError(t, s.Dispatch(context.Background(), a, Frame{Type: BinaryFrame, Data: []byte(raw)}))

	frames := bSock.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, raw, string(frames[0].Data))
	assert.Equal(t, BinaryFrame, frames[0].Type)
}

// TestForwardToConnection 测试转发给指定连接
func TestForwardToConnection(t *testing.T) {
	var target *Connection
	s := newTestServer(t, WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
		return nil, msg.Forward(ctx, target)
	}))
	a, aSock := mustAccept(t, s, handshake("", "chat"))
	var targetSock *fakeSocket
	target, targetSock = mustAccept(t, s, handshake("", "other"))
	_, sock := mustAccept(t, s, handshake("", "third"))

	require.NoError(t, s.Dispatch(context.Background(), a, text("raw")))
	assert.Equal(t, []string{"raw"}, targetSock.Sent())
	assert.Empty(t, aSock.Sent())
	assert.Empty(t, sock.Sent())

	s.Close(target)
	err := s.Dispatch(context.Background(), a, text("raw"))
	assert.True(t, errors.Is(err, ErrNotOpen))
}

// TestSendNotOpen 测试发送给非 open 连接失败而不是静默丢弃
func TestSendNotOpen(t *testing.T) {
	s := newTestServer(t)
	conn, sock := mustAccept(t, s, handshake("", "chat"))
	sock.setReadyState(ReadyStateClosing)

	err := s.Send(context.Background(), conn, "x")
	assert.True(t, errors.Is(err, ErrNotOpen))
	assert.Empty(t, sock.Sent())
}

// TestSendSerializationError 测试序列化失败
func TestSendSerializationError(t *testing.T) {
	s := newTestServer(t)
	conn, _ := mustAccept(t, s, handshake("", "chat"))

	err := s.Send(context.Background(), conn, make(chan int))
	assert.True(t, errors.Is(err, ErrSerialization))
	assert.Equal(t, errors.CloseInternalError, errors.CloseCodeOf(err, 0))
}

// TestSendEncodesJSON 测试默认序列化
func TestSendEncodesJSON(t *testing.T) {
	s := newTestServer(t)
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Send(context.Background(), conn, map[string]any{"ok": true}))
	require.NoError(t, s.Send(context.Background(), conn, json.RawMessage(`{"raw":1}`)))
	require.NoError(t, s.Send(context.Background(), conn, []byte("bytes")))

	sent := sock.Sent()
	require.Len(t, sent, 3)
	assert.JSONEq(t, `{"ok":true}`, sent[0])
	assert.Equal(t, `{"raw":1}`, sent[1])
	assert.Equal(t, "bytes", sent[2])
}

// TestProtobufOutputBinary 测试二进制协议使用二进制帧
func TestProtobufOutputBinary(t *testing.T) {
	s := newTestServer(t, WithProtocol(ProtobufProtocol{}))
	conn, sock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Send(context.Background(), conn, map[string]any{"n": 1}))

	frames := sock.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, BinaryFrame, frames[0].Type)

	v, err := ProtobufProtocol{}.Unwrap(frames[0].Data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, v)
}

// TestBroadcastSendErrors 测试单个发送失败单独上报，不影响其他接收方
func TestBroadcastSendErrors(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []string
	)
	s := newTestServer(t, WithSendErrorHandler(func(ctx context.Context, conn *Connection, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, conn.ID)
	}))

	bad, badSock := mustAccept(t, s, handshake("", "chat"))
	badSock.setSendErr(fmt.Errorf("write: broken pipe"))
	_, goodSock := mustAccept(t, s, handshake("", "chat"))

	require.NoError(t, s.Broadcast(context.Background(), "chat", "news"))
	assert.Equal(t, []string{"news"}, goodSock.Sent())
	assert.Equal(t, []string{bad.ID}, failed)
}

// TestBroadcastDefaultSendErrorLogged 测试默认发送失败处理记录 warn 日志
func TestBroadcastDefaultSendErrorLogged(t *testing.T) {
	log, logs := observedLogger()
	s := newTestServer(t, WithLogger(log))
	_, sock := mustAccept(t, s, handshake("", "chat"))
	sock.setSendErr(fmt.Errorf("write: broken pipe"))

	require.NoError(t, s.Broadcast(context.Background(), "chat", "x"))
	assert.Equal(t, 1, logs.FilterMessage("broadcast send failed").Len())
}

// TestFanoutConcurrencyLimit 测试广播并发数
func TestFanoutConcurrencyLimit(t *testing.T) {
	s := newTestServer(t, WithBroadcastWorkers(2))
	var socks []*fakeSocket
	for i := 0; i < 10; i++ {
		_, sock := mustAccept(t, s, handshake("", "chat"))
		socks = append(socks, sock)
	}

	frame, err := s.Output().Encode("hi", SendOptions{})
	require.NoError(t, err)
	delivered := s.Output().Fanout(context.Background(), frame, s.Clients("chat"))
	assert.Equal(t, 10, delivered)
	for _, sock := range socks {
		assert.Equal(t, []string{"hi"}, sock.Sent())
	}
}

// TestRelayBroadcast 测试跨节点广播
func TestRelayBroadcast(t *testing.T) {
	relay := &memoryRelay{}
	s1 := newTestServer(t, WithRelay(relay), WithNodeID("node-1"), WithAuthorizer(Wildcard, tagAuthorizer))
	s2 := newTestServer(t, WithRelay(relay), WithNodeID("node-2"), WithAuthorizer(Wildcard, tagAuthorizer))

	_, local := mustAccept(t, s1, handshake("", "news", "vip"))
	_, remote := mustAccept(t, s2, handshake("", "news", "vip"))
	_, remotePlain := mustAccept(t, s2, handshake("", "news"))
	_, remoteOther := mustAccept(t, s2, handshake("", "chat", "vip"))

	require.NoError(t, s1.Broadcast(context.Background(), "news", "breaking", "vip"))

	assert.Equal(t, []string{"breaking"}, local.Sent())
	assert.Equal(t, []string{"breaking"}, remote.Sent())
	assert.Empty(t, remotePlain.Sent())
	assert.Empty(t, remoteOther.Sent())
	assert.Equal(t, "node-1", s1.NodeID())
}

// TestRelayExcludesSender 测试跨节点广播仍排除发送方
func TestRelayExcludesSender(t *testing.T) {
	relay := &memoryRelay{}
	s1 := newTestServer(t, WithRelay(relay), WithController(Wildcard, func(ctx context.Context, msg *Message) (any, error) {
		return nil, msg.ReplyToChannel(ctx, "echo")
	}))
	s2 := newTestServer(t, WithRelay(relay))

	sender, senderSock := mustAccept(t, s1, handshake("", "chat"))
	_, peer := mustAccept(t, s2, handshake("", "chat"))

	require.NoError(t, s1.Dispatch(context.Background(), sender, text("x")))
	assert.Empty(t, senderSock.Sent())
	assert.Equal(t, []string{"echo"}, peer.Sent())
	assert.NotEqual(t, s1.NodeID(), s2.NodeID())
}

// TestWriteTimeout 测试单次发送超时
func TestWriteTimeout(t *testing.T) {
	s := newTestServer(t, WithWriteTimeout(20*time.Millisecond))
	conn, _ := mustAccept(t, s, handshake("", "chat"))
	blocking := &blockingSocket{fakeSocket: newFakeSocket()}
	conn.socket = blocking

	start := time.Now()
	err := s.Send(context.Background(), conn, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// blockingSocket 发送阻塞直到 ctx 结束
type blockingSocket struct {
	*fakeSocket
}

func (s *blockingSocket) Send(ctx context.Context, frame Frame) error {
	<-ctx.Done()
	return ctx.Err()
}
