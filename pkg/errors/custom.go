package errors

/*
	WebSocket 关闭码（RFC 6455 7.4.1）
*/

const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseUnsupportedData = 1003
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseInternalError   = 1011
	CloseTryAgainLater   = 1013
)

/*
	内置常用错误类别
*/

const (
	// KindConfig 配置错误（构造时同步返回）
	KindConfig Kind = "config"
	// KindPanic 处理器 panic 被恢复
	KindPanic Kind = "panic"
	// KindInternal 内部错误
	KindInternal Kind = "internal"
)

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = New(KindConfig, 1000, "invalid config")
	// ErrPanic 处理器 panic
	ErrPanic = New(KindPanic, 1001, "recovered panic", CloseInternalError)
	// ErrInternal 内部错误
	ErrInternal = New(KindInternal, 1002, "internal error", CloseInternalError)
)
