package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/ws"
)

// NATSConfig NATS 连接配置
type NATSConfig struct {
	URL           string        // 服务地址，多个以逗号分隔
	Name          string        // 客户端名称
	ReconnectWait time.Duration // 重连间隔
	Timeout       time.Duration // 连接超时
}

// DefaultNATSConfig 返回默认 NATS 配置
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "wspipe",
		ReconnectWait: 500 * time.Millisecond,
		Timeout:       3 * time.Second,
	}
}

// ConnectNATS 连接 NATS，断线后无限重连
func ConnectNATS(cfg *NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, ErrRelayInvalidConfig.WithError(fmt.Errorf("nats url is required"))
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, ErrRelayConnection.WithError(err)
	}
	return nc, nil
}

// NATSRelay 基于 NATS Core 订阅的广播中继
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  logger.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	stop   chan struct{}
	closed bool
}

// NewNATSRelay 创建 NATS 中继
func NewNATSRelay(conn *nats.Conn, subject string, opts ...RelayOption) (*NATSRelay, error) {
	if conn == nil || subject == "" {
		return nil, ErrRelayInvalidConfig.WithError(fmt.Errorf("nats relay requires connection and subject"))
	}
	o := buildOptions(opts)
	return &NATSRelay{
		conn:    conn,
		subject: subject,
		owned:   o.ownsClient,
		logger:  o.logger.With(zap.String("relay", "nats"), zap.String("subject", subject)),
		stop:    make(chan struct{}),
	}, nil
}

// Publish 实现 ws.Relay
func (r *NATSRelay) Publish(ctx context.Context, packet *ws.RelayPacket) error {
	if err := ctx.Err(); err != nil {
		return ErrRelayPublish.WithError(err)
	}
	data, err := encodePacket(packet)
	if err != nil {
		return ErrRelayPublish.WithError(err)
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		return ErrRelayPublish.WithError(err)
	}
	return nil
}

// Subscribe 实现 ws.Relay
//
// ctx 结束或 Close 时取消订阅。
func (r *NATSRelay) Subscribe(ctx context.Context, fn func(*ws.RelayPacket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	if r.sub != nil {
		return ErrRelaySubscribe.WithError(fmt.Errorf("already subscribed to %s", r.subject))
	}

	sub, err := r.conn.Subscribe(r.subject, func(m *nats.Msg) {
		packet, err := decodePacket(m.Data)
		if err != nil {
			r.logger.Warn("drop malformed relay packet", zap.Error(err))
			return
		}
		fn(packet)
	})
	if err != nil {
		return ErrRelaySubscribe.WithError(err)
	}
	// 确保服务端已登记订阅
	if err := r.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return ErrRelaySubscribe.WithError(err)
	}
	r.sub = sub

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-r.stop:
		}
	}()
	return nil
}

// Close 实现 ws.Relay（幂等）
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub := r.sub
	close(r.stop)
	r.mu.Unlock()

	var err error
	if sub != nil {
		// ctx 结束时可能已取消订阅
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrBadSubscription) {
			err = uerr
		}
	}
	if r.owned {
		r.conn.Close()
	}
	return err
}
