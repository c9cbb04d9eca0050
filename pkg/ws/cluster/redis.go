package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/ws"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        // 地址（单机）
	Addrs        []string      // 地址列表（集群/哨兵）
	Mode         RedisMode     // standalone, cluster, sentinel
	Username     string        // 用户名（Redis 6.0+）
	Password     string        // 密码
	DB           int           // 数据库编号
	PoolSize     int           // 连接池大小
	DialTimeout  time.Duration // 连接超时
	ReadTimeout  time.Duration // 读超时
	WriteTimeout time.Duration // 写超时

	// 哨兵模式配置
	MasterName string // 主节点名称
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Validate 验证配置
func (c *RedisConfig) Validate() error {
	switch c.Mode {
	case RedisStandalone, "":
		if c.Addr == "" {
			return ErrRelayInvalidConfig.WithError(fmt.Errorf("redis addr is required for standalone mode"))
		}
	case RedisCluster:
		if len(c.Addrs) == 0 {
			return ErrRelayInvalidConfig.WithError(fmt.Errorf("cluster mode requires addrs"))
		}
	case RedisSentinel:
		if len(c.Addrs) == 0 {
			return ErrRelayInvalidConfig.WithError(fmt.Errorf("sentinel mode requires addrs"))
		}
		if c.MasterName == "" {
			return ErrRelayInvalidConfig.WithError(fmt.Errorf("sentinel mode requires master name"))
		}
	default:
		return ErrRelayInvalidConfig.WithError(fmt.Errorf("unsupported redis mode: %s", c.Mode))
	}
	return nil
}

// NewRedisClient 按模式创建 Redis 客户端并测试连接
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case RedisCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	case RedisSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	default:
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrRelayConnection.WithError(err)
	}
	return client, nil
}

// RedisRelay 基于 Redis Pub/Sub 的广播中继
type RedisRelay struct {
	client redis.UniversalClient
	topic  string
	owned  bool // Close 时是否关闭 client
	logger logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// NewRedisRelay 创建 Redis 中继
func NewRedisRelay(client redis.UniversalClient, topic string, opts ...RelayOption) (*RedisRelay, error) {
	if client == nil || topic == "" {
		return nil, ErrRelayInvalidConfig.WithError(fmt.Errorf("redis relay requires client and topic"))
	}
	o := buildOptions(opts)
	return &RedisRelay{
		client: client,
		topic:  topic,
		owned:  o.ownsClient,
		logger: o.logger.With(zap.String("relay", "redis"), zap.String("topic", topic)),
	}, nil
}

// Publish 实现 ws.Relay
func (r *RedisRelay) Publish(ctx context.Context, packet *ws.RelayPacket) error {
	data, err := encodePacket(packet)
	if err != nil {
		return ErrRelayPublish.WithError(err)
	}
	if err := r.client.Publish(ctx, r.topic, data).Err(); err != nil {
		return ErrRelayPublish.WithError(err)
	}
	return nil
}

// Subscribe 实现 ws.Relay
//
// 订阅确认后返回；ctx 结束或 Close 时停止投递。
func (r *RedisRelay) Subscribe(ctx context.Context, fn func(*ws.RelayPacket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	if r.pubsub != nil {
		return ErrRelaySubscribe.WithError(fmt.Errorf("already subscribed to %s", r.topic))
	}

	pubsub := r.client.Subscribe(ctx, r.topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return ErrRelaySubscribe.WithError(err)
	}
	r.pubsub = pubsub

	r.wg.Add(1)
	go r.consume(ctx, pubsub, fn)
	return nil
}

// consume 投递循环
func (r *RedisRelay) consume(ctx context.Context, pubsub *redis.PubSub, fn func(*ws.RelayPacket)) {
	defer r.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			packet, err := decodePacket([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("drop malformed relay packet", zap.Error(err))
				continue
			}
			fn(packet)
		}
	}
}

// Close 实现 ws.Relay（幂等）
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubsub := r.pubsub
	r.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	r.wg.Wait()

	if r.owned {
		if cerr := r.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
