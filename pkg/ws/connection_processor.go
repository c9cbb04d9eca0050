package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/tracing"
)

// ConnectionProcessor 连接生命周期管理
//
// 准入顺序：Origin → 频道 → 鉴权 → 连接中间件 → 注册。
// 任一步失败都会关闭底层连接并交给连接异常处理器。
type ConnectionProcessor struct {
	allowed        map[string]struct{}
	allowAll       bool
	denied         map[string]struct{}
	deniedAll      bool
	strict         bool
	anonymous      bool
	channels       map[string]struct{}
	heartbeat      bool
	interval       time.Duration
	timeout        time.Duration
	disconnectDead bool

	chain      *Chain[*Connection]
	auth       *AuthorizationProcessor
	exceptions *ExceptionProcessor
	registry   *Registry
	events     *EventBus
	logger     logger.Logger
	metrics    Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu 保证 shutdown 之后不再有连接进入注册表或启动心跳
	mu     sync.RWMutex
	closed bool
}

// newConnectionProcessor 创建连接处理器
func newConnectionProcessor(
	cfg ConnectionConfig,
	auth *AuthorizationProcessor,
	exceptions *ExceptionProcessor,
	registry *Registry,
	events *EventBus,
	log logger.Logger,
	metrics Metrics,
) (*ConnectionProcessor, error) {
	allowed, allowAll, err := normalizeOrigins(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	denied, deniedAll, err := normalizeOrigins(cfg.DeniedOrigins)
	if err != nil {
		return nil, err
	}
	chain, err := NewChain(cfg.Middlewares...)
	if err != nil {
		return nil, err
	}

	channels := make(map[string]struct{}, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionProcessor{
		allowed:        allowed,
		allowAll:       allowAll,
		denied:         denied,
		deniedAll:      deniedAll,
		strict:         cfg.StrictOriginCheck,
		anonymous:      cfg.AllowAnonymousOrigin,
		channels:       channels,
		heartbeat:      cfg.FollowHeartbeat,
		interval:       cfg.HeartbeatInterval,
		timeout:        cfg.HeartbeatTimeout,
		disconnectDead: cfg.DisconnectDeadConnections,
		chain:          chain,
		auth:           auth,
		exceptions:     exceptions,
		registry:       registry,
		events:         events,
		logger:         log,
		metrics:        metrics,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Accept 执行准入流程
//
// 被拒绝时仍返回连接（状态为 StateRejected）以及拒绝原因。
func (p *ConnectionProcessor) Accept(ctx context.Context, socket Socket, hs Handshake) (*Connection, error) {
	conn := newConnection(p.ctx, socket, hs)
	ctx = logger.WithConnection(ctx, conn.ID, conn.Channel())
	ctx, span := tracing.StartAccept(ctx, conn.ID, conn.Channel(), hs.Origin)
	defer span.End()

	if err := p.admit(ctx, conn); err != nil {
		tracing.RecordError(span, err)
		return conn, p.reject(ctx, conn, err)
	}

	p.metrics.IncrementConnections()
	p.metrics.SetConnectionCount(p.registry.Count())
	p.events.Publish(Event{Type: EventConnected, ConnID: conn.ID, Channel: conn.Channel()})
	p.logger.InfoContext(ctx, "connection tracked",
		zap.String("origin", hs.Origin),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Strings("tags", conn.Tags()),
	)

	if p.heartbeat {
		go p.runHeartbeat(conn)
	}
	return conn, nil
}

// admit 依次执行准入步骤，成功后连接进入 TRACKED
func (p *ConnectionProcessor) admit(ctx context.Context, conn *Connection) error {
	if p.isClosed() {
		return ErrServerShuttingDown
	}
	if err := p.checkOrigin(conn.Origin()); err != nil {
		return err
	}
	if err := p.checkChannel(conn.Channel()); err != nil {
		return err
	}

	conn.setState(StateAuthorizing)
	ok, err := p.auth.Authorize(ctx, conn, conn.Channel())
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}

	conn.setState(StateAdmitted)
	completed, err := p.chain.Run(ctx, conn)
	if err != nil {
		return err
	}
	if !completed {
		return ErrConnectionRejected
	}

	return p.track(conn)
}

// track 注册连接，心跳计数在同一临界区内登记
func (p *ConnectionProcessor) track(conn *Connection) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrServerShuttingDown
	}
	if err := p.registry.Add(conn); err != nil {
		return err
	}
	conn.setState(StateTracked)
	if p.heartbeat {
		p.wg.Add(1)
	}
	return nil
}

// isClosed 是否已开始关闭
func (p *ConnectionProcessor) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// checkOrigin 校验 Origin
func (p *ConnectionProcessor) checkOrigin(origin string) error {
	if origin == "" {
		if !p.anonymous {
			return ErrAnonymousOrigin
		}
		return nil
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return ErrOriginRejected.WithError(fmt.Errorf("malformed origin %q", origin))
	}
	if _, denied := p.denied[normalized]; denied || p.deniedAll {
		return ErrOriginRejected
	}
	if p.strict && !p.allowAll {
		if _, allowed := p.allowed[normalized]; !allowed {
			return ErrOriginRejected
		}
	}
	return nil
}

// checkChannel 校验频道
func (p *ConnectionProcessor) checkChannel(channel string) error {
	if len(p.channels) == 0 {
		return nil
	}
	if _, ok := p.channels[channel]; !ok {
		return ErrChannelRejected
	}
	return nil
}

// reject 拒绝连接
func (p *ConnectionProcessor) reject(ctx context.Context, conn *Connection, err error) error {
	conn.closeOnce.Do(func() {
		conn.setState(StateRejected)
		conn.alive.Store(false)
		conn.cancel()
		_ = conn.socket.Close(errors.CloseCodeOf(err, errors.ClosePolicyViolation), closeReason(err))
	})

	kind := errors.KindOf(err)
	p.metrics.IncrementRejectedConnections(string(kind))
	p.events.Publish(Event{Type: EventRejected, ConnID: conn.ID, Channel: conn.Channel(), Err: err})
	p.logger.DebugContext(ctx, "connection rejected", zap.String("kind", string(kind)), zap.Error(err))
	p.exceptions.Handle(ctx, err, &ExceptionContext{Conn: conn})
	return err
}

// HandlePong 记录 pong
func (p *ConnectionProcessor) HandlePong(conn *Connection) {
	conn.recordPong()
	if conn.State() == StateDead {
		p.markAlive(conn)
	}
}

// Close 正常关闭连接
func (p *ConnectionProcessor) Close(conn *Connection) {
	p.Disconnect(conn, errors.CloseNormalClosure, "")
}

// Disconnect 以指定关闭码断开连接（幂等）
func (p *ConnectionProcessor) Disconnect(conn *Connection, code int, reason string) {
	conn.closeOnce.Do(func() {
		tracked := p.registry.Remove(conn.ID)
		conn.setState(StateClosed)
		conn.alive.Store(false)
		conn.cancel()
		_ = conn.socket.Close(code, reason)

		if !tracked {
			return
		}
		p.metrics.DecrementConnections()
		p.metrics.SetConnectionCount(p.registry.Count())
		p.events.Publish(Event{Type: EventDisconnected, ConnID: conn.ID, Channel: conn.Channel()})
		p.logger.Info("connection closed",
			zap.String("conn_id", conn.ID),
			zap.String("channel", conn.Channel()),
			zap.Int("code", code),
		)
	})
}

// runHeartbeat 心跳循环
//
// 每轮发送 ping 后最多等待 timeout；下一轮在本轮 ping 后 interval 开始，轮次不重叠。
func (p *ConnectionProcessor) runHeartbeat(conn *Connection) {
	defer p.wg.Done()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-conn.ctx.Done():
			return
		case <-timer.C:
		}

		sentAt := time.Now()
		ok := p.pingRound(conn, sentAt)
		if conn.ctx.Err() != nil {
			return
		}

		if ok {
			p.markAlive(conn)
		} else if !p.markDead(conn) {
			return
		}

		next := p.interval - time.Since(sentAt)
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

// pingRound 发送 ping 并等待 pong
func (p *ConnectionProcessor) pingRound(conn *Connection, sentAt time.Time) bool {
	select {
	case <-conn.pong:
	default:
	}

	ctx, cancel := context.WithTimeout(conn.ctx, p.timeout)
	defer cancel()

	if err := conn.socket.Ping(ctx); err != nil {
		return false
	}

	select {
	case <-conn.pong:
		return true
	case <-ctx.Done():
		return !conn.LastPong().Before(sentAt)
	}
}

// markAlive 心跳正常，DEAD 连接恢复为 TRACKED
func (p *ConnectionProcessor) markAlive(conn *Connection) {
	if conn.ctx.Err() != nil {
		return
	}
	conn.alive.Store(true)
	if conn.state.CompareAndSwap(int32(StateDead), int32(StateTracked)) {
		p.events.Publish(Event{Type: EventRevived, ConnID: conn.ID, Channel: conn.Channel()})
		p.logger.Info("connection revived", zap.String("conn_id", conn.ID))
	}
}

// markDead 心跳超时，返回是否继续心跳
func (p *ConnectionProcessor) markDead(conn *Connection) bool {
	conn.alive.Store(false)
	if conn.state.CompareAndSwap(int32(StateTracked), int32(StateDead)) {
		p.metrics.IncrementDeadConnections()
		p.events.Publish(Event{Type: EventDead, ConnID: conn.ID, Channel: conn.Channel(), Err: ErrHeartbeatTimeout})
		p.logger.Warn("connection heartbeat timeout",
			zap.String("conn_id", conn.ID),
			zap.Time("last_pong", conn.LastPong()),
		)
	}

	if p.disconnectDead {
		p.Disconnect(conn, ErrHeartbeatTimeout.CloseCode, closeReason(ErrHeartbeatTimeout))
		return false
	}
	return true
}

// shutdown 关闭所有连接并等待心跳协程退出
func (p *ConnectionProcessor) shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.registry.Range(func(conn *Connection) bool {
		p.Disconnect(conn, ErrServerShuttingDown.CloseCode, closeReason(ErrServerShuttingDown))
		return true
	})
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeReason 关闭原因（控制帧负载不超过 123 字节）
func closeReason(err error) string {
	var e *errors.Error
	reason := ""
	if errors.As(err, &e) {
		reason = e.Message
	} else if err != nil {
		reason = err.Error()
	}
	if len(reason) > 123 {
		reason = reason[:123]
	}
	return reason
}
