package app

import (
	"github.com/tokmz/wspipe/pkg/errors"
)

// KindRateLimited 握手频率超限
const KindRateLimited errors.Kind = "rate_limited"

var (
	// ErrRateLimited 握手频率超限，客户端稍后重试
	ErrRateLimited = errors.New(KindRateLimited, 6001, "too many handshakes", errors.CloseTryAgainLater)
	// ErrUnknownRelay 未知的中继驱动
	ErrUnknownRelay = errors.New(errors.KindConfig, 6002, "unknown relay driver")
)
