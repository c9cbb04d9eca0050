package cluster

import "github.com/tokmz/wspipe/pkg/logger"

// RelayOption 中继选项
type RelayOption func(*relayOptions)

type relayOptions struct {
	logger     logger.Logger
	ownsClient bool
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) RelayOption {
	return func(o *relayOptions) {
		o.logger = l
	}
}

// WithOwnedClient Close 时一并关闭底层客户端
func WithOwnedClient() RelayOption {
	return func(o *relayOptions) {
		o.ownsClient = true
	}
}

func buildOptions(opts []RelayOption) relayOptions {
	o := relayOptions{logger: logger.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
