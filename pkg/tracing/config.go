package tracing

import (
	"fmt"
	"time"

	"github.com/tokmz/wspipe/pkg/errors"
)

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string // 服务名称（必填）
	ServiceVersion string // 服务版本
	Environment    string // 环境（dev/staging/prod）

	ExporterType     string            // 导出器类型（otlp/otlp-grpc/stdout/noop）
	ExporterEndpoint string            // 导出器端点（如 collector:4318）
	ExporterHeaders  map[string]string // 导出器请求头（用于认证）
	Insecure         bool              // 是否使用非 TLS 连接

	SamplingRate float64 // 采样率（0.0-1.0）
	SamplingType string  // 采样类型（always/never/ratio/parent_based）

	Enabled            bool              // 是否启用
	ResourceAttributes map[string]string // 资源属性（自定义标签）

	BatchTimeout       time.Duration // 批量导出超时
	MaxExportBatchSize int           // 最大批量大小
	MaxQueueSize       int           // 最大队列大小
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "wspipe",
		ServiceVersion:     "0.1.0",
		Environment:        "development",
		ExporterType:       ExporterStdout,
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		Enabled:            true,
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return invalidConfig("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return invalidConfig("sampling rate must be between 0.0 and 1.0, got %v", c.SamplingRate)
	}

	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return invalidConfig("invalid exporter type: %s", c.ExporterType)
	}

	if c.BatchTimeout <= 0 || c.MaxExportBatchSize <= 0 || c.MaxQueueSize <= 0 {
		return invalidConfig("batch settings must be positive")
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return errors.ErrInvalidConfig.WithError(fmt.Errorf("tracing: "+format, args...))
}
