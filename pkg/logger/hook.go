package logger

import "go.uber.org/zap/zapcore"

// Hook 写入前回调，返回错误时该条日志不写出
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数形式的 Hook
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

// OnWrite 实现 Hook
func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}

// hooked 在写入前依次调用钩子的 Core
type hooked struct {
	zapcore.Core
	hooks []Hook
}

func (h *hooked) With(fields []zapcore.Field) zapcore.Core {
	return &hooked{Core: h.Core.With(fields), hooks: h.hooks}
}

func (h *hooked) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !h.Enabled(entry.Level) {
		return ce
	}
	return ce.AddCore(entry, h)
}

func (h *hooked) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	for _, hook := range h.hooks {
		if err := hook.OnWrite(entry, fields); err != nil {
			return err
		}
	}
	return h.Core.Write(entry, fields)
}
