package ws

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultChannel 未声明频道时的默认频道
const DefaultChannel = "/"

// ReadyState 传输层连接状态
type ReadyState int32

const (
	ReadyStateConnecting ReadyState = iota
	ReadyStateOpen
	ReadyStateClosing
	ReadyStateClosed
)

func (s ReadyState) String() string {
	switch s {
	case ReadyStateConnecting:
		return "connecting"
	case ReadyStateOpen:
		return "open"
	case ReadyStateClosing:
		return "closing"
	case ReadyStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State 连接生命周期状态
type State int32

const (
	StatePending State = iota
	StateAuthorizing
	StateAdmitted
	StateTracked
	StateDead
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthorizing:
		return "authorizing"
	case StateAdmitted:
		return "admitted"
	case StateTracked:
		return "tracked"
	case StateDead:
		return "dead"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// FrameType 帧类型（取值与 gorilla/websocket 一致）
type FrameType int

const (
	TextFrame   FrameType = 1
	BinaryFrame FrameType = 2
)

// Frame 一个完整的数据帧
type Frame struct {
	Type FrameType
	Data []byte
}

// Socket 传输层连接抽象
type Socket interface {
	// Send 发送数据帧，写入完成后返回
	Send(ctx context.Context, frame Frame) error
	// Ping 发送 ping 控制帧
	Ping(ctx context.Context) error
	// Close 以指定关闭码关闭连接
	Close(code int, reason string) error
	ReadyState() ReadyState
	RemoteAddr() string
}

// Handshake 握手阶段可获得的信息
type Handshake struct {
	Origin     string
	Channel    string
	RemoteAddr string
	Header     http.Header
	Query      url.Values
}

// Connection 被管线管理的连接
type Connection struct {
	ID string

	socket    Socket
	handshake Handshake
	channel   string

	mu   sync.RWMutex
	tags map[string]struct{}

	state    atomic.Int32
	alive    atomic.Bool
	lastPong atomic.Int64
	pong     chan struct{}

	metadata sync.Map

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// newConnection 创建连接
func newConnection(parent context.Context, socket Socket, hs Handshake) *Connection {
	ctx, cancel := context.WithCancel(parent)
	channel := hs.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	c := &Connection{
		ID:        uuid.NewString(),
		socket:    socket,
		handshake: hs,
		channel:   channel,
		tags:      make(map[string]struct{}),
		pong:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.state.Store(int32(StatePending))
	c.alive.Store(true)
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

// Channel 所属频道
func (c *Connection) Channel() string {
	return c.channel
}

// Handshake 握手信息
func (c *Connection) Handshake() Handshake {
	return c.handshake
}

// Origin 握手时声明的 Origin
func (c *Connection) Origin() string {
	return c.handshake.Origin
}

// RemoteAddr 远端地址
func (c *Connection) RemoteAddr() string {
	if addr := c.socket.RemoteAddr(); addr != "" {
		return addr
	}
	return c.handshake.RemoteAddr
}

// ReadyState 传输层状态
func (c *Connection) ReadyState() ReadyState {
	return c.socket.ReadyState()
}

// IsOpen 是否处于 open 状态
func (c *Connection) IsOpen() bool {
	return c.socket.ReadyState() == ReadyStateOpen
}

// State 生命周期状态
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Alive 心跳是否正常
func (c *Connection) Alive() bool {
	return c.alive.Load()
}

// LastPong 最近一次收到 pong 的时间
func (c *Connection) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// Context 连接关闭时取消
func (c *Connection) Context() context.Context {
	return c.ctx
}

// AddTags 添加标签
func (c *Connection) AddTags(tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		if tag != "" {
			c.tags[tag] = struct{}{}
		}
	}
}

// RemoveTags 移除标签
func (c *Connection) RemoveTags(tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		delete(c.tags, tag)
	}
}

// HasTags 是否同时拥有全部标签
func (c *Connection) HasTags(tags ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, tag := range tags {
		if _, ok := c.tags[tag]; !ok {
			return false
		}
	}
	return true
}

// Tags 返回排序后的标签
func (c *Connection) Tags() []string {
	c.mu.RLock()
	tags := make([]string, 0, len(c.tags))
	for tag := range c.tags {
		tags = append(tags, tag)
	}
	c.mu.RUnlock()
	sort.Strings(tags)
	return tags
}

// Set 设置元数据
func (c *Connection) Set(key string, value any) {
	c.metadata.Store(key, value)
}

// Get 获取元数据
func (c *Connection) Get(key string) (any, bool) {
	return c.metadata.Load(key)
}

// recordPong 记录 pong 并唤醒心跳等待
func (c *Connection) recordPong() {
	c.lastPong.Store(time.Now().UnixNano())
	select {
	case c.pong <- struct{}{}:
	default:
	}
}
