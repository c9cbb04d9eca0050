// Package app 按配置组装 WebSocket 服务：日志、链路追踪、中继、指标、管线与 HTTP 路由
package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tokmz/wspipe/pkg/config"
	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/tracing"
	"github.com/tokmz/wspipe/pkg/ws"
)

// HealthPath 健康检查路径
const HealthPath = "/healthz"

// Option 应用选项
type Option func(*options)

type options struct {
	logger     logger.Logger
	out        io.Writer
	serverOpts []ws.Option
}

// WithLogger 使用外部 Logger，不再按日志配置创建
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBannerOutput 启动信息输出位置（默认 stdout）
func WithBannerOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithServerOptions 追加管线选项，在配置映射的选项之后应用
func WithServerOptions(opts ...ws.Option) Option {
	return func(o *options) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// App WebSocket 服务
type App struct {
	logger   logger.Logger
	tracer   *tracing.Provider
	limiter  *HandshakeLimiter
	registry *prometheus.Registry
	server   *ws.Server
	engine   *gin.Engine
	out      io.Writer

	mu         sync.Mutex
	settings   *config.Settings
	httpServer *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New 按配置创建服务
func New(ctx context.Context, settings *config.Settings, opts ...Option) (*App, error) {
	if settings == nil {
		return nil, errors.ErrInvalidConfig.WithMessage("settings is nil")
	}
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		if log, err = newLogger(settings.Log); err != nil {
			return nil, err
		}
	}

	tracer, err := newTracer(ctx, settings.Tracing)
	if err != nil {
		return nil, err
	}

	a := &App{
		logger:   log,
		tracer:   tracer,
		out:      o.out,
		settings: settings,
	}
	if err := a.build(ctx, o.serverOpts); err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}
	a.engine = a.routes()
	return a, nil
}

// build 创建中继、指标与管线
func (a *App) build(ctx context.Context, extra []ws.Option) error {
	s := a.settings
	opts := serverOptions(s)
	opts = append(opts,
		ws.WithLogger(a.logger),
		ws.WithProtocol(ws.EventProtocol{}),
		ws.WithAuthorizer(ws.Wildcard, tagAuthorizer),
		ws.OnMessageError(errors.KindAny, replyError(a.send, a.logger)),
	)

	router, err := newRouter(a.clients)
	if err != nil {
		return err
	}
	opts = append(opts, ws.WithController(ws.Wildcard, router.Controller()))

	if s.Metrics.Enabled {
		registry, metrics, err := newMetrics(s.Metrics)
		if err != nil {
			return err
		}
		a.registry = registry
		opts = append(opts, ws.WithMetrics(metrics))
	}

	if s.Connection.HandshakeRate > 0 {
		a.limiter = NewHandshakeLimiter(s.Connection.HandshakeRate, s.Connection.HandshakeBurst, a.logger)
		mw := a.limiter.Middleware()
		opts = append(opts, ws.UseConnection(mw.Name, mw.Handle))
	}

	relay, err := newRelay(ctx, s.Relay, a.logger)
	if err != nil {
		a.stopLimiter()
		return err
	}
	if relay != nil {
		opts = append(opts, ws.WithRelay(relay))
	}

	opts = append(opts, extra...)
	if a.server, err = ws.New(opts...); err != nil {
		if relay != nil {
			_ = relay.Close()
		}
		a.stopLimiter()
		return err
	}
	return nil
}

// routes 注册 HTTP 路由
func (a *App) routes() *gin.Engine {
	s := a.settings
	if s.Server.Mode != "" {
		gin.SetMode(s.Server.Mode)
	}
	silenceGin()

	metricsPath := ""
	if a.registry != nil {
		metricsPath = s.Metrics.Path
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		accessLog(a.logger, HealthPath, metricsPath),
		tracing.Middleware(tracing.WithFilter(func(c *gin.Context) bool {
			path := c.Request.URL.Path
			return path != HealthPath && path != metricsPath
		})),
	)

	engine.GET(s.Server.Path, gin.WrapH(a.server))
	engine.GET(HealthPath, a.health)
	if a.registry != nil {
		engine.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})))
	}
	return engine
}

// health 健康检查
func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"node":        a.server.NodeID(),
		"connections": a.server.Count(),
	})
}

func (a *App) send(ctx context.Context, conn *ws.Connection, v any) error {
	return a.server.Send(ctx, conn, v)
}

func (a *App) clients(channel string) []*ws.Connection {
	return a.server.Clients(channel)
}

// Handler HTTP 处理器
func (a *App) Handler() http.Handler {
	return a.engine
}

// Server 管线
func (a *App) Server() *ws.Server {
	return a.server
}

// Settings 当前配置
func (a *App) Settings() *config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Reload 应用新配置：日志级别立即生效，其余配置需重启
func (a *App) Reload(s *config.Settings) {
	if s == nil {
		return
	}

	a.mu.Lock()
	prev := a.settings
	a.settings = s
	a.mu.Unlock()

	if level := logger.ParseLevel(s.Log.Level); level != a.logger.Level() {
		a.logger.SetLevel(level)
		a.logger.Info("log level changed", zap.String("level", level.String()))
	}
	if restartRequired(prev, s) {
		a.logger.Warn("settings changed, restart required to apply")
	}
}

// restartRequired 除日志级别外是否有变化
func restartRequired(prev, next *config.Settings) bool {
	p, n := *prev, *next
	p.Log.Level, n.Log.Level = "", ""
	return !reflect.DeepEqual(p, n)
}

// Run 启动 HTTP 服务，ctx 取消或收到 SIGINT/SIGTERM 时优雅关闭
func (a *App) Run(ctx context.Context) error {
	s := a.Settings()
	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.httpServer = srv
	a.mu.Unlock()

	a.printBanner(a.out, ln.Addr().String())
	a.logger.Info("server started", zap.String("addr", ln.Addr().String()), zap.String("path", s.Server.Path))

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("shutting down", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown 依次关闭管线、HTTP 服务与链路追踪（幂等）
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		keep := func(err error) {
			if err != nil && a.shutdownErr == nil {
				a.shutdownErr = err
			}
		}

		keep(a.server.Shutdown(ctx))

		a.mu.Lock()
		srv := a.httpServer
		a.mu.Unlock()
		if srv != nil {
			keep(srv.Shutdown(ctx))
		}

		a.stopLimiter()
		keep(a.tracer.Shutdown(ctx))

		a.logger.Info("server stopped")
		_ = a.logger.Sync()
	})
	return a.shutdownErr
}

func (a *App) stopLimiter() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}
