package cluster

import "github.com/tokmz/wspipe/pkg/errors"

// KindRelay 中继错误类别
const KindRelay errors.Kind = "relay"

// 预定义错误
var (
	ErrRelayInvalidConfig = errors.New(errors.KindConfig, 5001, "relay invalid config")
	ErrRelayConnection    = errors.New(KindRelay, 5002, "relay connection failed")
	ErrRelayPublish       = errors.New(KindRelay, 5003, "relay publish failed")
	ErrRelaySubscribe     = errors.New(KindRelay, 5004, "relay subscribe failed")
	ErrRelayClosed        = errors.New(KindRelay, 5005, "relay closed")
)
