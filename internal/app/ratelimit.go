package app

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/ws"
)

// tokenBucket 令牌桶
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

// allow 取一个令牌，早于上次补充的时间不补充也不回拨
func (t *tokenBucket) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elapsed := now.Sub(t.lastRefill); elapsed > 0 {
		t.tokens += elapsed.Seconds() * t.refillRate
		if t.tokens > t.maxTokens {
			t.tokens = t.maxTokens
		}
		t.lastRefill = now
	}

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// HandshakeLimiter 按远端 IP 限制握手频率
type HandshakeLimiter struct {
	rate   float64
	burst  int
	expiry time.Duration
	logger logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	done     chan struct{}
	stopOnce sync.Once
}

// NewHandshakeLimiter 创建限流器并启动过期桶清理
func NewHandshakeLimiter(rate float64, burst int, log logger.Logger) *HandshakeLimiter {
	if burst < 1 {
		burst = int(rate)
		if burst < 1 {
			burst = 1
		}
	}
	if log == nil {
		log = logger.NewNop()
	}
	l := &HandshakeLimiter{
		rate:    rate,
		burst:   burst,
		expiry:  10 * time.Minute,
		logger:  log,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
	}
	go l.sweep(time.Minute)
	return l
}

// Middleware 连接中间件，超限时以 ErrRateLimited 拒绝
func (l *HandshakeLimiter) Middleware() ws.Middleware[*ws.Connection] {
	return ws.Middleware[*ws.Connection]{
		Name: "handshake-limit",
		Handle: func(ctx context.Context, conn *ws.Connection, next ws.NextFunc) error {
			key := remoteIP(conn.RemoteAddr())
			if !l.bucket(key).allow(l.now()) {
				l.logger.WarnContext(ctx, "handshake rate exceeded",
					zap.String("remote_ip", key),
					zap.Float64("rate", l.rate),
				)
				return ErrRateLimited
			}
			next()
			return nil
		},
	}
}

// bucket 获取或创建令牌桶
func (l *HandshakeLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.rate, l.burst, l.now())
	l.buckets[key] = b
	return b
}

// sweep 定期清理空闲的桶
func (l *HandshakeLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

func (l *HandshakeLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		b.mu.Lock()
		expired := now.Sub(b.lastRefill) > l.expiry
		b.mu.Unlock()
		if expired {
			delete(l.buckets, key)
		}
	}
}

// Stop 停止清理协程（幂等）
func (l *HandshakeLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// remoteIP 去掉端口
func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
