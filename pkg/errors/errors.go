package errors

import "errors"

// Kind 错误类别（异常处理器按类别分发）
type Kind string

const (
	// KindAny 通配类别，用作默认处理器的键
	KindAny Kind = "*"
	// KindUnknown 未携带类别的普通 error
	KindUnknown Kind = "unknown"
)

// Error 带类别的错误
type Error struct {
	Kind      Kind   `json:"kind"`    // 错误类别
	Code      int    `json:"code"`    // 错误码
	Message   string `json:"message"` // 错误信息
	CloseCode int    `json:"-"`       // 关闭连接时使用的 WebSocket 状态码
	Err       error  `json:"-"`       // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// kind 错误类别
// code 错误码
// message 错误信息
// closeCode 可选关闭码，默认 1008（policy violation）
func New(kind Kind, code int, message string, closeCode ...int) *Error {
	cc := ClosePolicyViolation
	if len(closeCode) > 0 {
		cc = closeCode[0]
	}
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		CloseCode: cc,
	}
}

// Clone 克隆错误（避免修改共享的预定义错误）
func (e *Error) Clone() *Error {
	return &Error{
		Kind:      e.Kind,
		Code:      e.Code,
		Message:   e.Message,
		CloseCode: e.CloseCode,
		Err:       e.Err,
	}
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	c := e.Clone()
	c.Err = err
	return c
}

// WithMessage 替换错误信息（返回新实例，不修改原错误）
func (e *Error) WithMessage(message string) *Error {
	c := e.Clone()
	c.Message = message
	return c
}

// Is 检查错误是否为指定类型
// 当 target 也是 *Error 时，比较 Kind 与 Code 是否相同
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if ok {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

// KindOf 返回错误链上第一个 *Error 的类别
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CloseCodeOf 返回错误对应的关闭码，无 *Error 时返回 fallback
func CloseCodeOf(err error, fallback int) int {
	var e *Error
	if errors.As(err, &e) && e.CloseCode != 0 {
		return e.CloseCode
	}
	return fallback
}

// As 转换为指定类型的错误
// target 目标错误类型指针（必须是指针类型）
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 检查错误是否为指定类型
func Is(err error, target error) bool {
	return errors.Is(err, target)
}
