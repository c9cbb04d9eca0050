package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/tracing"
)

// Server WebSocket 管线入口
type Server struct {
	// 核心组件
	registry    *Registry
	connections *ConnectionProcessor
	messages    *MessageProcessor
	output      *OutputProcessor
	events      *EventBus

	// 配置
	config   *Config
	upgrader websocket.Upgrader
	nodeID   string
	relay    Relay

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	logger  logger.Logger
	metrics Metrics
}

// New 创建服务
func New(opts ...Option) (*Server, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return NewWithConfig(config)
}

// NewWithConfig 使用完整配置创建服务
func NewWithConfig(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	if config.NodeID == "" {
		config.NodeID = uuid.NewString()
	}
	if config.Message.Protocol == nil {
		config.Message.Protocol = config.Protocol
	}
	if config.Output.Protocol == nil {
		config.Output.Protocol = config.Protocol
	}

	log := config.Logger.With(zap.String("node", config.NodeID))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		registry: NewRegistry(config.Connection.MaxConnections),
		events:   NewEventBus(config.EventWorkers, config.EventQueueSize),
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.Transport.ReadBufferSize,
			WriteBufferSize:   config.Transport.WriteBufferSize,
			HandshakeTimeout:  config.Transport.HandshakeTimeout,
			EnableCompression: config.Transport.EnableCompression,
			// Origin 由 ConnectionProcessor 校验
			CheckOrigin: func(*http.Request) bool { return true },
		},
		nodeID:  config.NodeID,
		relay:   config.Relay,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log,
		metrics: config.Metrics,
	}

	if err := s.build(); err != nil {
		cancel()
		s.events.Close()
		return nil, err
	}

	if s.relay != nil {
		if err := s.relay.Subscribe(ctx, s.deliverRemote); err != nil {
			cancel()
			s.events.Close()
			return nil, err
		}
	}
	return s, nil
}

// build 创建各处理器
func (s *Server) build() error {
	cfg := s.config

	auth, err := NewAuthorizationProcessor(cfg.Authorization)
	if err != nil {
		return err
	}
	connErrors, err := NewExceptionProcessor("connection", cfg.ConnectionErrors, s.logger)
	if err != nil {
		return err
	}
	msgErrors, err := NewExceptionProcessor("message", cfg.MessageErrors, s.logger)
	if err != nil {
		return err
	}

	s.connections, err = newConnectionProcessor(cfg.Connection, auth, connErrors, s.registry, s.events, s.logger, s.metrics)
	if err != nil {
		return err
	}
	s.messages, err = newMessageProcessor(cfg.Message, msgErrors, s, s.events, s.logger, s.metrics)
	if err != nil {
		return err
	}
	s.output = newOutputProcessor(cfg.Output, s.logger, s.metrics)
	return nil
}

// ServeHTTP 升级 HTTP 连接并运行读循环
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	hs := s.handshake(r)
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	socket := newGorillaSocket(wsConn, s.config.Transport)
	conn, err := s.connections.Accept(r.Context(), socket, hs)
	if err != nil {
		return
	}
	socket.onPong(func() { s.connections.HandlePong(conn) })

	s.wg.Add(1)
	go s.readPump(conn, socket)
}

// handshake 从请求中提取握手信息
func (s *Server) handshake(r *http.Request) Handshake {
	query := r.URL.Query()
	channel := r.URL.Path
	if param := s.config.Transport.ChannelParam; param != "" {
		channel = query.Get(param)
	}
	return Handshake{
		Origin:     r.Header.Get("Origin"),
		Channel:    channel,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header.Clone(),
		Query:      query,
	}
}

// readPump 按到达顺序逐帧处理
func (s *Server) readPump(conn *Connection, socket *gorillaSocket) {
	defer s.wg.Done()
	defer s.connections.Close(conn)

	for {
		frame, err := socket.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("connection read failed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		_ = s.messages.Process(conn.Context(), conn, frame)
	}
}

// Accept 对自定义传输执行准入流程
func (s *Server) Accept(ctx context.Context, socket Socket, hs Handshake) (*Connection, error) {
	return s.connections.Accept(ctx, socket, hs)
}

// Dispatch 对自定义传输处理一帧入站数据
func (s *Server) Dispatch(ctx context.Context, conn *Connection, frame Frame) error {
	return s.messages.Process(ctx, conn, frame)
}

// HandlePong 对自定义传输记录 pong
func (s *Server) HandlePong(conn *Connection) {
	s.connections.HandlePong(conn)
}

// Close 正常关闭连接
func (s *Server) Close(conn *Connection) {
	s.connections.Close(conn)
}

// Disconnect 以指定关闭码断开连接
func (s *Server) Disconnect(conn *Connection, code int, reason string) {
	s.connections.Disconnect(conn, code, reason)
}

// Send 发送给单个连接
func (s *Server) Send(ctx context.Context, conn *Connection, v any) error {
	return s.send(ctx, conn, v, SendOptions{})
}

// Broadcast 发送给频道（AllChannels 表示全部）内拥有全部标签的连接
func (s *Server) Broadcast(ctx context.Context, channel string, v any, tags ...string) error {
	return s.broadcast(ctx, v, SendOptions{}, channel, tags, nil)
}

// Clients 频道内拥有全部标签且处于 open 状态的连接
func (s *Server) Clients(channel string, tags ...string) []*Connection {
	return s.registry.Clients(channel, tags...)
}

// Get 获取连接
func (s *Server) Get(id string) (*Connection, bool) {
	return s.registry.Get(id)
}

// Count 获取连接数
func (s *Server) Count() int {
	return s.registry.Count()
}

// Subscribe 订阅系统事件，返回取消订阅函数
func (s *Server) Subscribe(eventType EventType, handler EventHandler) func() {
	return s.events.Subscribe(eventType, handler)
}

// Connections 连接处理器
func (s *Server) Connections() *ConnectionProcessor {
	return s.connections
}

// Messages 消息处理器
func (s *Server) Messages() *MessageProcessor {
	return s.messages
}

// Output 出站处理器
func (s *Server) Output() *OutputProcessor {
	return s.output
}

// NodeID 节点 ID
func (s *Server) NodeID() string {
	return s.nodeID
}

// send 实现 hub
func (s *Server) send(ctx context.Context, conn *Connection, v any, opts SendOptions) error {
	return s.output.Process(ctx, v, conn, opts)
}

// broadcast 实现 hub
//
// 编码一次后并发发送；配置了中继时同时发布给其他节点。
func (s *Server) broadcast(ctx context.Context, v any, opts SendOptions, channel string, tags []string, exclude *Connection) error {
	frame, err := s.output.Encode(v, opts)
	if err != nil {
		return err
	}

	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID
	}

	ctx, span := tracing.StartBroadcast(ctx, channel, false)
	delivered := s.output.Fanout(ctx, frame, s.targets(channel, tags, excludeID))
	tracing.EndBroadcast(span, delivered)

	if s.relay != nil {
		packet := &RelayPacket{
			Node:    s.nodeID,
			Channel: channel,
			Tags:    tags,
			Exclude: excludeID,
			Binary:  frame.Type == BinaryFrame,
			Data:    frame.Data,
		}
		if err := s.relay.Publish(ctx, packet); err != nil {
			s.logger.WarnContext(ctx, "relay publish failed", zap.String("target_channel", channel), zap.Error(err))
		}
	}
	return nil
}

// targets 广播目标，排除指定连接
func (s *Server) targets(channel string, tags []string, excludeID string) []*Connection {
	clients := s.registry.Clients(channel, tags...)
	if excludeID == "" {
		return clients
	}
	targets := clients[:0]
	for _, conn := range clients {
		if conn.ID != excludeID {
			targets = append(targets, conn)
		}
	}
	return targets
}

// deliverRemote 投递其他节点发布的广播
func (s *Server) deliverRemote(packet *RelayPacket) {
	if packet == nil || packet.Node == s.nodeID {
		return
	}
	frame := Frame{Type: TextFrame, Data: packet.Data}
	if packet.Binary {
		frame.Type = BinaryFrame
	}
	ctx, span := tracing.StartBroadcast(s.ctx, packet.Channel, true)
	delivered := s.output.Fanout(ctx, frame, s.targets(packet.Channel, packet.Tags, packet.Exclude))
	tracing.EndBroadcast(span, delivered)
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.connections.shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.cancel()
	if s.relay != nil {
		if rerr := s.relay.Close(); rerr != nil && err == nil {
			err = errors.ErrInternal.WithError(rerr)
		}
	}
	s.events.Close()
	_ = s.logger.Sync()
	return err
}
