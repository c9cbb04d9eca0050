package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 管线使用的结构化日志
//
// *Context 方法会附加 Context 中的连接 ID、频道、消息 ID 与 trace/span ID。
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	DebugContext(ctx context.Context, msg string, fields ...zap.Field)
	InfoContext(ctx context.Context, msg string, fields ...zap.Field)
	WarnContext(ctx context.Context, msg string, fields ...zap.Field)
	ErrorContext(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	Sync() error
	SetLevel(level Level)
	Level() Level
}

// zapLogger 基于 zap 的实现，子 Logger 共享同一个 AtomicLevel
type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New 按配置创建 Logger
func New(config *Config) (Logger, error) {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()

	level := zap.NewAtomicLevelAt(config.Level.toZapLevel())
	core, err := newCore(config, level)
	if err != nil {
		return nil, err
	}

	z := zap.New(core, zapOptions(config)...)
	if config.Name != "" {
		z = z.Named(config.Name)
	}
	return &zapLogger{z: z, level: level}, nil
}

// NewWithOptions 按选项创建 Logger
func NewWithOptions(opts ...Option) (Logger, error) {
	var config Config
	for _, opt := range opts {
		opt(&config)
	}
	return New(&config)
}

// NewProduction stdout JSON，info 级别，Error 起带堆栈
func NewProduction(opts ...Option) (Logger, error) {
	base := []Option{WithLevel(InfoLevel), WithFormat(JSONFormat), WithConsole(), WithStacktrace(true)}
	return NewWithOptions(append(base, opts...)...)
}

// NewDevelopment 彩色控制台输出，debug 级别，带调用位置
func NewDevelopment(opts ...Option) (Logger, error) {
	base := []Option{WithLevel(DebugLevel), WithFormat(ConsoleFormat), WithConsole(), WithCaller(true)}
	return NewWithOptions(append(base, opts...)...)
}

// NewNop 丢弃全部输出
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// FromZap 包装已有的 zap.Logger，级别固定为其当前级别
func FromZap(z *zap.Logger) Logger {
	return &zapLogger{z: z, level: zap.NewAtomicLevelAt(z.Level())}
}

// emit 所有级别方法的共同出口，调用深度固定为 2
func (l *zapLogger) emit(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.z.Check(lvl, msg)
	if ce == nil {
		return
	}
	if ctx != nil {
		fields = contextFields(ctx, fields)
	}
	ce.Write(fields...)
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) {
	l.emit(nil, zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) Info(msg string, fields ...zap.Field) {
	l.emit(nil, zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(msg string, fields ...zap.Field) {
	l.emit(nil, zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) Error(msg string, fields ...zap.Field) {
	l.emit(nil, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.With(fields...), level: l.level}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

// SetLevel 运行时调整级别，对所有子 Logger 生效
func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(level.toZapLevel())
}

func (l *zapLogger) Level() Level {
	return Level(l.level.Level())
}
