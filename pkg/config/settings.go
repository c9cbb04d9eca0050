package config

import (
	"fmt"
	"time"
)

// Settings 服务完整配置
type Settings struct {
	Server     ServerSettings     `mapstructure:"server"`
	Connection ConnectionSettings `mapstructure:"connection"`
	Heartbeat  HeartbeatSettings  `mapstructure:"heartbeat"`
	Transport  TransportSettings  `mapstructure:"transport"`
	Log        LogSettings        `mapstructure:"log"`
	Relay      RelaySettings      `mapstructure:"relay"`
	Tracing    TracingSettings    `mapstructure:"tracing"`
	Metrics    MetricsSettings    `mapstructure:"metrics"`
}

// ServerSettings HTTP 监听配置
type ServerSettings struct {
	Addr            string        `mapstructure:"addr"`
	Path            string        `mapstructure:"path"`
	Mode            string        `mapstructure:"mode"` // gin 运行模式：debug/release/test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ConnectionSettings 准入策略
type ConnectionSettings struct {
	AllowedOrigins       []string `mapstructure:"allowed_origins"`
	DeniedOrigins        []string `mapstructure:"denied_origins"`
	StrictOriginCheck    bool     `mapstructure:"strict_origin_check"`
	AllowAnonymousOrigin bool     `mapstructure:"allow_anonymous_origin"`
	Channels             []string `mapstructure:"channels"`
	MaxConnections       int      `mapstructure:"max_connections"`
	HandshakeRate        float64  `mapstructure:"handshake_rate"`  // 每个 IP 每秒允许的握手数，0 表示不限
	HandshakeBurst       int      `mapstructure:"handshake_burst"` // 突发容量
}

// HeartbeatSettings 心跳配置
type HeartbeatSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	DisconnectDead bool          `mapstructure:"disconnect_dead"`
}

// TransportSettings 传输层配置
type TransportSettings struct {
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	BroadcastWorkers  int           `mapstructure:"broadcast_workers"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	ChannelParam      string        `mapstructure:"channel_param"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json/console
	File       string `mapstructure:"file"`   // 为空时输出到控制台
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// RelaySettings 跨节点广播配置
type RelaySettings struct {
	Driver string        `mapstructure:"driver"` // 空/redis/nats
	Topic  string        `mapstructure:"topic"`
	Redis  RedisSettings `mapstructure:"redis"`
	NATS   NATSSettings  `mapstructure:"nats"`
}

// RedisSettings Redis 连接配置
type RedisSettings struct {
	Mode       string   `mapstructure:"mode"` // standalone/sentinel/cluster
	Addr       string   `mapstructure:"addr"`
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
}

// NATSSettings NATS 连接配置
type NATSSettings struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// TracingSettings 链路追踪配置
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Exporter     string  `mapstructure:"exporter"`
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// MetricsSettings Prometheus 指标配置
type MetricsSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// defaultValues 各配置项的默认值
func defaultValues() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.path":             "/ws",
		"server.mode":             "release",
		"server.shutdown_timeout": 10 * time.Second,

		"connection.allowed_origins":        []string{},
		"connection.denied_origins":         []string{},
		"connection.strict_origin_check":    false,
		"connection.allow_anonymous_origin": true,
		"connection.channels":               []string{},
		"connection.max_connections":        0,
		"connection.handshake_rate":         20.0,
		"connection.handshake_burst":        40,

		"heartbeat.enabled":         true,
		"heartbeat.interval":        30 * time.Second,
		"heartbeat.timeout":         10 * time.Second,
		"heartbeat.disconnect_dead": false,

		"transport.max_message_size":   512 * 1024,
		"transport.send_queue_size":    256,
		"transport.write_timeout":      10 * time.Second,
		"transport.broadcast_workers":  64,
		"transport.enable_compression": false,
		"transport.channel_param":      "channel",

		"log.level":       "info",
		"log.format":      "json",
		"log.file":        "",
		"log.max_size":    100,
		"log.max_age":     30,
		"log.max_backups": 10,
		"log.compress":    true,

		"relay.driver":            "",
		"relay.topic":             "wspipe.broadcast",
		"relay.redis.mode":        "standalone",
		"relay.redis.addr":        "127.0.0.1:6379",
		"relay.redis.addrs":       []string{},
		"relay.redis.master_name": "",
		"relay.redis.username":    "",
		"relay.redis.password":    "",
		"relay.redis.db":          0,
		"relay.nats.url":          "nats://127.0.0.1:4222",
		"relay.nats.name":         "wspipe",

		"tracing.enabled":       false,
		"tracing.service_name":  "wspipe",
		"tracing.exporter":      "otlp",
		"tracing.endpoint":      "",
		"tracing.insecure":      true,
		"tracing.sampling_rate": 1.0,

		"metrics.enabled":   true,
		"metrics.path":      "/metrics",
		"metrics.namespace": "wspipe",
	}
}

// Validate 校验字段间约束
func (s *Settings) Validate() error {
	if s.Server.Path == "" || s.Server.Path[0] != '/' {
		return ErrConfigInvalid.WithMessage(fmt.Sprintf("server.path must start with '/', got %q", s.Server.Path))
	}
	if s.Heartbeat.Enabled && s.Heartbeat.Interval > 0 && s.Heartbeat.Timeout >= s.Heartbeat.Interval {
		return ErrConfigInvalid.WithMessage(fmt.Sprintf("heartbeat.timeout %s must be less than interval %s",
			s.Heartbeat.Timeout, s.Heartbeat.Interval))
	}
	if s.Connection.HandshakeRate < 0 || s.Connection.HandshakeBurst < 0 {
		return ErrConfigInvalid.WithMessage("connection.handshake_rate and handshake_burst must not be negative")
	}
	if s.Tracing.SamplingRate < 0 || s.Tracing.SamplingRate > 1 {
		return ErrConfigInvalid.WithMessage(fmt.Sprintf("tracing.sampling_rate %v out of [0, 1]", s.Tracing.SamplingRate))
	}
	return nil
}
