package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
)

// Wildcard 默认处理器 / 控制器 / 鉴权器的键
const Wildcard = "*"

// ConnectionConfig 连接准入配置
type ConnectionConfig struct {
	AllowedOrigins       []string // 允许的 Origin（"*" 表示全部）
	DeniedOrigins        []string // 拒绝的 Origin，优先于 AllowedOrigins
	StrictOriginCheck    bool     // 开启后不在 AllowedOrigins 中的 Origin 被拒绝
	AllowAnonymousOrigin bool     // 是否允许未携带 Origin 的连接
	Channels             []string // 允许的频道，空表示不限制

	FollowHeartbeat           bool          // 是否启用心跳
	HeartbeatInterval         time.Duration // 心跳间隔
	HeartbeatTimeout          time.Duration // 等待 pong 的超时，必须小于间隔
	DisconnectDeadConnections bool          // 心跳超时后是否主动断开

	MaxConnections int // 最大连接数，0 表示不限制

	Middlewares []Middleware[*Connection]
}

// AuthorizeFunc 频道鉴权函数，可在鉴权时为连接添加标签
type AuthorizeFunc func(ctx context.Context, conn *Connection, channel string) (bool, error)

// AuthorizationConfig 鉴权配置
type AuthorizationConfig struct {
	Authorizers map[string]AuthorizeFunc // channel -> 鉴权函数，"*" 为默认
}

// Controller 频道控制器，返回非 nil 时回复给发送方
type Controller func(ctx context.Context, msg *Message) (any, error)

// MessageConfig 消息处理配置
type MessageConfig struct {
	Protocol    Protocol
	Middlewares []Middleware[*Message]
	Controllers map[string]Controller // channel -> 控制器，"*" 为默认
}

// SendErrorHandler 广播中单个发送失败的回调
type SendErrorHandler func(ctx context.Context, conn *Connection, err error)

// OutputConfig 出站配置
type OutputConfig struct {
	Protocol         Protocol
	Serializer       Serializer
	WriteTimeout     time.Duration // 单次发送超时
	BroadcastWorkers int           // 广播并发数
	OnSendError      SendErrorHandler
}

// ExceptionConfig 异常处理配置
type ExceptionConfig struct {
	Handlers map[errors.Kind]ExceptionHandler // 类别 -> 处理器，"*" 为默认
}

// TransportConfig gorilla/websocket 传输配置
type TransportConfig struct {
	ReadBufferSize    int           // 读缓冲区大小
	WriteBufferSize   int           // 写缓冲区大小
	HandshakeTimeout  time.Duration // 握手超时时间
	MaxMessageSize    int64         // 最大消息大小
	SendQueueSize     int           // 发送队列大小
	ControlQueueSize  int           // 控制帧队列大小
	WriteWait         time.Duration // 单帧写超时
	EnableCompression bool          // 是否启用压缩
	ChannelParam      string        // 频道查询参数名，为空时使用 URL 路径
}

// Config 服务配置
type Config struct {
	Connection       ConnectionConfig
	Authorization    AuthorizationConfig
	Message          MessageConfig
	Output           OutputConfig
	ConnectionErrors ExceptionConfig
	MessageErrors    ExceptionConfig
	Transport        TransportConfig

	// Protocol 同时作用于入站与出站（子配置未单独设置时）
	Protocol Protocol

	Logger  logger.Logger
	Metrics Metrics
	Relay   Relay
	NodeID  string

	EventWorkers   int // 事件总线 worker 数
	EventQueueSize int // 事件总线队列大小
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			AllowAnonymousOrigin: true,
			HeartbeatInterval:    30 * time.Second,
			HeartbeatTimeout:     10 * time.Second,
		},
		Authorization: AuthorizationConfig{
			Authorizers: make(map[string]AuthorizeFunc),
		},
		Message: MessageConfig{
			Controllers: make(map[string]Controller),
		},
		Output: OutputConfig{
			Serializer:       JSONSerializer{},
			WriteTimeout:     10 * time.Second,
			BroadcastWorkers: 64,
		},
		ConnectionErrors: ExceptionConfig{Handlers: make(map[errors.Kind]ExceptionHandler)},
		MessageErrors:    ExceptionConfig{Handlers: make(map[errors.Kind]ExceptionHandler)},
		Transport: TransportConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			MaxMessageSize:   512 * 1024, // 512KB
			SendQueueSize:    256,
			ControlQueueSize: 16,
			WriteWait:        10 * time.Second,
			ChannelParam:     "channel",
		},
		EventWorkers:   4,
		EventQueueSize: 1000,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	cc := c.Connection
	if cc.FollowHeartbeat {
		if cc.HeartbeatInterval <= 0 {
			return configError("HeartbeatInterval must be positive, got %v", cc.HeartbeatInterval)
		}
		if cc.HeartbeatTimeout <= 0 {
			return configError("HeartbeatTimeout must be positive, got %v", cc.HeartbeatTimeout)
		}
		if cc.HeartbeatTimeout >= cc.HeartbeatInterval {
			return configError("HeartbeatTimeout (%v) must be less than HeartbeatInterval (%v)",
				cc.HeartbeatTimeout, cc.HeartbeatInterval)
		}
	}
	if cc.MaxConnections < 0 {
		return configError("MaxConnections must not be negative, got %d", cc.MaxConnections)
	}
	if _, _, err := normalizeOrigins(cc.AllowedOrigins); err != nil {
		return err
	}
	if _, _, err := normalizeOrigins(cc.DeniedOrigins); err != nil {
		return err
	}
	for _, ch := range cc.Channels {
		if strings.TrimSpace(ch) == "" {
			return configError("Channels contains an empty channel name")
		}
	}

	for ch, fn := range c.Authorization.Authorizers {
		if fn == nil {
			return configError("authorizer for channel %q is nil", ch)
		}
	}
	for ch, fn := range c.Message.Controllers {
		if fn == nil {
			return configError("controller for channel %q is nil", ch)
		}
	}
	for kind, fn := range c.ConnectionErrors.Handlers {
		if fn == nil {
			return configError("connection exception handler for %q is nil", kind)
		}
	}
	for kind, fn := range c.MessageErrors.Handlers {
		if fn == nil {
			return configError("message exception handler for %q is nil", kind)
		}
	}

	if c.Output.WriteTimeout <= 0 {
		return configError("WriteTimeout must be positive, got %v", c.Output.WriteTimeout)
	}
	if c.Output.BroadcastWorkers <= 0 {
		return configError("BroadcastWorkers must be positive, got %d", c.Output.BroadcastWorkers)
	}

	t := c.Transport
	if t.ReadBufferSize <= 0 {
		return configError("ReadBufferSize must be positive, got %d", t.ReadBufferSize)
	}
	if t.WriteBufferSize <= 0 {
		return configError("WriteBufferSize must be positive, got %d", t.WriteBufferSize)
	}
	if t.HandshakeTimeout <= 0 {
		return configError("HandshakeTimeout must be positive, got %v", t.HandshakeTimeout)
	}
	if t.MaxMessageSize <= 0 {
		return configError("MaxMessageSize must be positive, got %d", t.MaxMessageSize)
	}
	if t.SendQueueSize <= 0 {
		return configError("SendQueueSize must be positive, got %d", t.SendQueueSize)
	}
	if t.ControlQueueSize <= 0 {
		return configError("ControlQueueSize must be positive, got %d", t.ControlQueueSize)
	}
	if t.WriteWait <= 0 {
		return configError("WriteWait must be positive, got %v", t.WriteWait)
	}

	if c.EventWorkers <= 0 {
		return configError("EventWorkers must be positive, got %d", c.EventWorkers)
	}
	if c.EventQueueSize <= 0 {
		return configError("EventQueueSize must be positive, got %d", c.EventQueueSize)
	}
	return nil
}

// configError 构造配置错误
func configError(format string, args ...any) error {
	return ErrInvalidConfig.WithError(fmt.Errorf(format, args...))
}

// normalizeOrigins 规范化 Origin 列表，"*" 表示全部
func normalizeOrigins(origins []string) (map[string]struct{}, bool, error) {
	set := make(map[string]struct{}, len(origins))
	all := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			all = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			return nil, false, configError("invalid origin %q", origin)
		}
		set[normalized] = struct{}{}
	}
	return set, all, nil
}

// normalizeOrigin 规范化为小写的 scheme://host
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Option 配置选项
type Option func(*Config)

// WithAllowedOrigins 设置允许的 Origin
func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) {
		c.Connection.AllowedOrigins = append(c.Connection.AllowedOrigins, origins...)
	}
}

// WithDeniedOrigins 设置拒绝的 Origin
func WithDeniedOrigins(origins ...string) Option {
	return func(c *Config) {
		c.Connection.DeniedOrigins = append(c.Connection.DeniedOrigins, origins...)
	}
}

// WithStrictOriginCheck 开启严格 Origin 检查
func WithStrictOriginCheck(strict bool) Option {
	return func(c *Config) {
		c.Connection.StrictOriginCheck = strict
	}
}

// WithAnonymousOrigin 设置是否允许空 Origin
func WithAnonymousOrigin(allow bool) Option {
	return func(c *Config) {
		c.Connection.AllowAnonymousOrigin = allow
	}
}

// WithChannels 设置允许的频道
func WithChannels(channels ...string) Option {
	return func(c *Config) {
		c.Connection.Channels = append(c.Connection.Channels, channels...)
	}
}

// WithHeartbeat 启用心跳
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.Connection.FollowHeartbeat = true
		c.Connection.HeartbeatInterval = interval
		c.Connection.HeartbeatTimeout = timeout
	}
}

// WithDisconnectDeadConnections 心跳超时后断开连接
func WithDisconnectDeadConnections(enable bool) Option {
	return func(c *Config) {
		c.Connection.DisconnectDeadConnections = enable
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.Connection.MaxConnections = max
	}
}

// UseConnection 追加连接中间件
func UseConnection(name string, fn MiddlewareFunc[*Connection]) Option {
	return func(c *Config) {
		c.Connection.Middlewares = append(c.Connection.Middlewares, Middleware[*Connection]{Name: name, Handle: fn})
	}
}

// UseMessage 追加消息中间件
func UseMessage(name string, fn MiddlewareFunc[*Message]) Option {
	return func(c *Config) {
		c.Message.Middlewares = append(c.Message.Middlewares, Middleware[*Message]{Name: name, Handle: fn})
	}
}

// WithAuthorizer 注册频道鉴权函数
func WithAuthorizer(channel string, fn AuthorizeFunc) Option {
	return func(c *Config) {
		c.Authorization.Authorizers[channel] = fn
	}
}

// WithController 注册频道控制器
func WithController(channel string, fn Controller) Option {
	return func(c *Config) {
		c.Message.Controllers[channel] = fn
	}
}

// OnConnectionError 注册连接异常处理器
func OnConnectionError(kind errors.Kind, fn ExceptionHandler) Option {
	return func(c *Config) {
		c.ConnectionErrors.Handlers[kind] = fn
	}
}

// OnMessageError 注册消息异常处理器
func OnMessageError(kind errors.Kind, fn ExceptionHandler) Option {
	return func(c *Config) {
		c.MessageErrors.Handlers[kind] = fn
	}
}

// WithProtocol 设置消息协议
func WithProtocol(p Protocol) Option {
	return func(c *Config) {
		c.Protocol = p
	}
}

// WithSerializer 设置序列化器
func WithSerializer(s Serializer) Option {
	return func(c *Config) {
		c.Output.Serializer = s
	}
}

// WithWriteTimeout 设置发送超时
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Output.WriteTimeout = d
	}
}

// WithBroadcastWorkers 设置广播并发数
func WithBroadcastWorkers(n int) Option {
	return func(c *Config) {
		c.Output.BroadcastWorkers = n
	}
}

// WithSendErrorHandler 设置广播发送失败回调
func WithSendErrorHandler(fn SendErrorHandler) Option {
	return func(c *Config) {
		c.Output.OnSendError = fn
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.Transport.MaxMessageSize = size
	}
}

// WithSendQueueSize 设置发送队列大小
func WithSendQueueSize(size int) Option {
	return func(c *Config) {
		c.Transport.SendQueueSize = size
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.Transport.EnableCompression = enable
	}
}

// WithChannelParam 设置频道查询参数名，为空时使用 URL 路径
func WithChannelParam(name string) Option {
	return func(c *Config) {
		c.Transport.ChannelParam = name
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithRelay 设置跨节点广播中继
func WithRelay(relay Relay) Option {
	return func(c *Config) {
		c.Relay = relay
	}
}

// WithNodeID 设置节点 ID
func WithNodeID(id string) Option {
	return func(c *Config) {
		c.NodeID = id
	}
}

// WithEventBus 设置事件总线 worker 数与队列大小
func WithEventBus(workers, queueSize int) Option {
	return func(c *Config) {
		c.EventWorkers = workers
		c.EventQueueSize = queueSize
	}
}
