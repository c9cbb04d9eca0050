package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tokmz/wspipe/pkg/config"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/tracing"
	"github.com/tokmz/wspipe/pkg/ws"
	"github.com/tokmz/wspipe/pkg/ws/cluster"
	"github.com/tokmz/wspipe/pkg/ws/wsmetrics"
)

// 中继驱动
const (
	RelayNone  = ""
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// newLogger 按日志配置创建 Logger，配置了文件时按大小轮转
func newLogger(s config.LogSettings) (logger.Logger, error) {
	opts := []logger.Option{
		logger.WithName("wsd"),
		logger.WithLevelName(s.Level),
		logger.WithFormat(logger.Format(s.Format)),
		logger.WithCaller(true),
		logger.WithStacktrace(true),
	}
	if s.File == "" {
		opts = append(opts, logger.WithConsole())
	} else {
		opts = append(opts, logger.WithRotation(logger.RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}))
	}
	return logger.NewWithOptions(opts...)
}

// newTracer 创建链路追踪 Provider
func newTracer(ctx context.Context, s config.TracingSettings) (*tracing.Provider, error) {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = s.Enabled
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if s.Exporter != "" {
		cfg.ExporterType = s.Exporter
	}
	cfg.ExporterEndpoint = s.Endpoint
	cfg.Insecure = s.Insecure
	cfg.SamplingRate = s.SamplingRate
	return tracing.NewProvider(ctx, cfg)
}

// newRelay 按驱动创建中继，未配置时返回 nil
func newRelay(ctx context.Context, s config.RelaySettings, log logger.Logger) (ws.Relay, error) {
	switch s.Driver {
	case RelayNone:
		return nil, nil
	case RelayRedis:
		cfg := cluster.DefaultRedisConfig()
		cfg.Mode = cluster.RedisMode(s.Redis.Mode)
		cfg.Addr = s.Redis.Addr
		cfg.Addrs = s.Redis.Addrs
		cfg.MasterName = s.Redis.MasterName
		cfg.Username = s.Redis.Username
		cfg.Password = s.Redis.Password
		cfg.DB = s.Redis.DB

		client, err := cluster.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		relay, err := cluster.NewRedisRelay(client, s.Topic, cluster.WithOwnedClient(), cluster.WithLogger(log))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return relay, nil
	case RelayNATS:
		cfg := cluster.DefaultNATSConfig()
		cfg.URL = s.NATS.URL
		if s.NATS.Name != "" {
			cfg.Name = s.NATS.Name
		}

		conn, err := cluster.ConnectNATS(cfg)
		if err != nil {
			return nil, err
		}
		relay, err := cluster.NewNATSRelay(conn, s.Topic, cluster.WithOwnedClient(), cluster.WithLogger(log))
		if err != nil {
			conn.Close()
			return nil, err
		}
		return relay, nil
	default:
		return nil, ErrUnknownRelay.WithError(fmt.Errorf("driver %q", s.Driver))
	}
}

// newMetrics 创建独立的 Prometheus 注册器与管线指标
func newMetrics(s config.MetricsSettings) (*prometheus.Registry, *wsmetrics.Prometheus, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := wsmetrics.New(s.Namespace, registry)
	if err != nil {
		return nil, nil, err
	}
	return registry, m, nil
}

// serverOptions 将配置映射为管线选项
func serverOptions(s *config.Settings) []ws.Option {
	c := s.Connection
	t := s.Transport
	opts := []ws.Option{
		ws.WithAllowedOrigins(c.AllowedOrigins...),
		ws.WithDeniedOrigins(c.DeniedOrigins...),
		ws.WithStrictOriginCheck(c.StrictOriginCheck),
		ws.WithAnonymousOrigin(c.AllowAnonymousOrigin),
		ws.WithChannels(c.Channels...),
		ws.WithMaxConnections(c.MaxConnections),
		ws.WithMessageSizeLimit(t.MaxMessageSize),
		ws.WithSendQueueSize(t.SendQueueSize),
		ws.WithWriteTimeout(t.WriteTimeout),
		ws.WithBroadcastWorkers(t.BroadcastWorkers),
		ws.WithEnableCompression(t.EnableCompression),
		ws.WithChannelParam(t.ChannelParam),
	}
	if s.Heartbeat.Enabled {
		opts = append(opts,
			ws.WithHeartbeat(s.Heartbeat.Interval, s.Heartbeat.Timeout),
			ws.WithDisconnectDeadConnections(s.Heartbeat.DisconnectDead),
		)
	}
	return opts
}
