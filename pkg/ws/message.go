package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// hub 消息回复与广播所依赖的服务端能力
type hub interface {
	send(ctx context.Context, conn *Connection, v any, opts SendOptions) error
	broadcast(ctx context.Context, v any, opts SendOptions, channel string, tags []string, exclude *Connection) error
}

// Message 一条入站消息，构造后不可变
type Message struct {
	ID string

	content   any
	raw       []byte
	frameType FrameType
	conn      *Connection
	hub       hub
	createdAt time.Time
}

// newMessage 创建消息
func newMessage(h hub, conn *Connection, frame Frame, content any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		content:   content,
		raw:       frame.Data,
		frameType: frame.Type,
		conn:      conn,
		hub:       h,
		createdAt: time.Now(),
	}
}

// Content 解码后的内容（未配置协议时为原始 []byte）
func (m *Message) Content() any {
	return m.content
}

// Raw 原始帧数据
func (m *Message) Raw() []byte {
	return m.raw
}

// Text 原始帧数据的字符串形式
func (m *Message) Text() string {
	return string(m.raw)
}

// Binary 是否为二进制帧
func (m *Message) Binary() bool {
	return m.frameType == BinaryFrame
}

// Conn 发送方连接
func (m *Message) Conn() *Connection {
	return m.conn
}

// Channel 发送方所在频道
func (m *Message) Channel() string {
	return m.conn.Channel()
}

// CreatedAt 接收时间
func (m *Message) CreatedAt() time.Time {
	return m.createdAt
}

// Envelope 使用 EventProtocol 时返回信封
func (m *Message) Envelope() (*Envelope, bool) {
	env, ok := m.content.(*Envelope)
	return env, ok
}

// Unmarshal 将原始数据按 JSON 解析
func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.raw, v)
}

// Reply 回复发送方
func (m *Message) Reply(ctx context.Context, v any) error {
	return m.hub.send(ctx, m.conn, v, SendOptions{})
}

// ReplyToChannel 发送给同频道内拥有全部标签的其他连接
func (m *Message) ReplyToChannel(ctx context.Context, v any, tags ...string) error {
	return m.hub.broadcast(ctx, v, SendOptions{}, m.conn.Channel(), tags, m.conn)
}

// ReplyToOthers 发送给指定频道（AllChannels 表示全部）内拥有全部标签的其他连接
func (m *Message) ReplyToOthers(ctx context.Context, v any, channel string, tags ...string) error {
	return m.hub.broadcast(ctx, v, SendOptions{}, channel, tags, m.conn)
}

// Forward 将原始帧转发给指定连接
func (m *Message) Forward(ctx context.Context, target *Connection) error {
	return m.hub.send(ctx, target, m.raw, m.forwardOptions())
}

// ForwardToChannel 将原始帧转发给同频道的其他连接
func (m *Message) ForwardToChannel(ctx context.Context, tags ...string) error {
	return m.hub.broadcast(ctx, m.raw, m.forwardOptions(), m.conn.Channel(), tags, m.conn)
}

// ForwardToOthers 将原始帧转发给指定频道的其他连接
func (m *Message) ForwardToOthers(ctx context.Context, channel string, tags ...string) error {
	return m.hub.broadcast(ctx, m.raw, m.forwardOptions(), channel, tags, m.conn)
}

func (m *Message) forwardOptions() SendOptions {
	return SendOptions{Raw: true, Binary: m.Binary()}
}
