package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// outbound 待写入的数据帧
type outbound struct {
	messageType int
	data        []byte
	done        chan error // 写入结果，容量为 1
}

// gorillaSocket 基于 gorilla/websocket 的 Socket 实现
//
// 所有写操作由 writePump 单协程完成；控制帧走高优先级队列。
type gorillaSocket struct {
	conn *websocket.Conn

	send     chan *outbound
	sendHigh chan *outbound

	state     atomic.Int32
	writeWait time.Duration
	closing   chan struct{}
	closeOnce sync.Once
	writeDone chan struct{} // 标记 writePump 已退出
}

// newGorillaSocket 包装已升级的连接并启动写协程
func newGorillaSocket(conn *websocket.Conn, cfg TransportConfig) *gorillaSocket {
	s := &gorillaSocket{
		conn:      conn,
		send:      make(chan *outbound, cfg.SendQueueSize),
		sendHigh:  make(chan *outbound, cfg.ControlQueueSize),
		writeWait: cfg.WriteWait,
		closing:   make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	s.state.Store(int32(ReadyStateOpen))
	conn.SetReadLimit(cfg.MaxMessageSize)

	go s.writePump()
	return s
}

// ReadyState 实现 Socket
func (s *gorillaSocket) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

// RemoteAddr 实现 Socket
func (s *gorillaSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Send 实现 Socket
func (s *gorillaSocket) Send(ctx context.Context, frame Frame) error {
	messageType := websocket.TextMessage
	if frame.Type == BinaryFrame {
		messageType = websocket.BinaryMessage
	}
	return s.enqueue(ctx, s.send, messageType, frame.Data)
}

// Ping 实现 Socket
func (s *gorillaSocket) Ping(ctx context.Context) error {
	return s.enqueue(ctx, s.sendHigh, websocket.PingMessage, nil)
}

// enqueue 入队并等待写入完成
func (s *gorillaSocket) enqueue(ctx context.Context, queue chan *outbound, messageType int, data []byte) error {
	if s.ReadyState() != ReadyStateOpen {
		return ErrConnectionClosed
	}

	out := &outbound{messageType: messageType, data: data, done: make(chan error, 1)}
	select {
	case queue <- out:
	case <-s.closing:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.done:
		if err != nil {
			return ErrConnectionClosed.WithError(err)
		}
		return nil
	case <-s.closing:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writePump 写协程
func (s *gorillaSocket) writePump() {
	defer close(s.writeDone)

	for {
		// 优先处理关闭与控制帧
		select {
		case <-s.closing:
			return
		case out := <-s.sendHigh:
			if !s.write(out) {
				return
			}
			continue
		default:
		}

		select {
		case <-s.closing:
			return
		case out := <-s.sendHigh:
			if !s.write(out) {
				return
			}
		case out := <-s.send:
			if !s.write(out) {
				return
			}
		}
	}
}

// write 写入单帧，失败时标记连接关闭
func (s *gorillaSocket) write(out *outbound) bool {
	deadline := time.Now().Add(s.writeWait)

	var err error
	if out.messageType == websocket.PingMessage {
		err = s.conn.WriteControl(websocket.PingMessage, out.data, deadline)
	} else if err = s.conn.SetWriteDeadline(deadline); err == nil {
		err = s.conn.WriteMessage(out.messageType, out.data)
	}
	out.done <- err

	if err != nil {
		s.state.Store(int32(ReadyStateClosing))
		_ = s.conn.Close()
		return false
	}
	return true
}

// read 读取一帧
func (s *gorillaSocket) read() (Frame, error) {
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		s.state.CompareAndSwap(int32(ReadyStateOpen), int32(ReadyStateClosing))
		return Frame{}, err
	}
	if messageType == websocket.BinaryMessage {
		return Frame{Type: BinaryFrame, Data: data}, nil
	}
	return Frame{Type: TextFrame, Data: data}, nil
}

// onPong 设置 pong 回调
func (s *gorillaSocket) onPong(fn func()) {
	s.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// Close 实现 Socket（幂等）
func (s *gorillaSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(ReadyStateClosing))
		close(s.closing)

		// 等待写协程退出，保证关闭帧不与数据帧并发写
		select {
		case <-s.writeDone:
		case <-time.After(s.writeWait):
		}

		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(s.writeWait))
		err = s.conn.Close()
		s.state.Store(int32(ReadyStateClosed))
	})
	return err
}
