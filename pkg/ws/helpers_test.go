package ws

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tokmz/wspipe/pkg/logger"
)

// fakeSocket 内存 Socket，记录发送的帧与 ping
type fakeSocket struct {
	mu          sync.Mutex
	frames      []Frame
	pings       int
	closes      int
	closeCode   int
	closeReason string
	sendErr     error
	onPing      func()

	state atomic.Int32
}

func newFakeSocket() *fakeSocket {
	s := &fakeSocket{}
	s.state.Store(int32(ReadyStateOpen))
	return s
}

func (s *fakeSocket) Send(ctx context.Context, frame Frame) error {
	if s.ReadyState() != ReadyStateOpen {
		return ErrConnectionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSocket) Ping(ctx context.Context) error {
	s.mu.Lock()
	s.pings++
	hook := s.onPing
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closeCode = code
	s.closeReason = reason
	s.state.Store(int32(ReadyStateClosed))
	return nil
}

func (s *fakeSocket) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

func (s *fakeSocket) RemoteAddr() string {
	return "127.0.0.1:50000"
}

func (s *fakeSocket) setReadyState(state ReadyState) {
	s.state.Store(int32(state))
}

func (s *fakeSocket) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *fakeSocket) setOnPing(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPing = fn
}

// Sent 已发送帧的文本内容
func (s *fakeSocket) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = string(f.Data)
	}
	return out
}

func (s *fakeSocket) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *fakeSocket) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) Closes() (count, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes, s.closeCode
}

// observedLogger 记录日志以便断言
func observedLogger() (logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.FromZap(zap.New(core)), logs
}

// newTestServer 创建测试服务，测试结束时关闭
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// handshake 构造握手信息，tags 通过查询参数 tag 传递
func handshake(origin, channel string, tags ...string) Handshake {
	q := url.Values{}
	for _, tag := range tags {
		q.Add("tag", tag)
	}
	return Handshake{
		Origin:     origin,
		Channel:    channel,
		RemoteAddr: "127.0.0.1:50000",
		Query:      q,
	}
}

// tagAuthorizer 将查询参数中的 tag 加到连接上
func tagAuthorizer(ctx context.Context, conn *Connection, channel string) (bool, error) {
	conn.AddTags(conn.Handshake().Query["tag"]...)
	return true, nil
}

// mustAccept 接入连接并断言成功
func mustAccept(t *testing.T, s *Server, hs Handshake) (*Connection, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	conn, err := s.Accept(context.Background(), sock, hs)
	require.NoError(t, err)
	require.Equal(t, StateTracked, conn.State())
	return conn, sock
}

// memoryRelay 进程内中继，多个 Server 共享
type memoryRelay struct {
	mu   sync.RWMutex
	subs []func(*RelayPacket)
}

func (r *memoryRelay) Publish(ctx context.Context, packet *RelayPacket) error {
	r.mu.RLock()
	subs := slices.Clone(r.subs)
	r.mu.RUnlock()

	for _, fn := range subs {
		cp := *packet
		fn(&cp)
	}
	return nil
}

func (r *memoryRelay) Subscribe(ctx context.Context, fn func(*RelayPacket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	return nil
}

func (r *memoryRelay) Close() error {
	return nil
}
