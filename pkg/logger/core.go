package logger

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// consoleSink 终端或管道不支持 fsync 时 Sync 视为成功
type consoleSink struct {
	*os.File
}

func (c consoleSink) Sync() error {
	if err := c.File.Sync(); err != nil && !unsyncable(err) {
		return err
	}
	return nil
}

func unsyncable(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP)
}

// newCore 组装 encoder、输出、采样与钩子
func newCore(config *Config, level zap.AtomicLevel) (zapcore.Core, error) {
	sinks, err := openSinks(config)
	if err != nil {
		return nil, err
	}

	var core zapcore.Core = zapcore.NewCore(newEncoder(config.Format), zapcore.NewMultiWriteSyncer(sinks...), level)
	if s := config.Sampling; s != nil {
		core = zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter)
	}
	if len(config.Hooks) > 0 {
		core = &hooked{Core: core, hooks: config.Hooks}
	}
	return core, nil
}

// zapOptions 调用位置、堆栈与固定字段
func zapOptions(config *Config) []zap.Option {
	var opts []zap.Option
	if config.EnableCaller {
		// 跳过 Debug/Info 等方法与 emit
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	if config.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if n := len(config.Fields); n > 0 {
		keys := make([]string, 0, n)
		for key := range config.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fields := make([]zap.Field, len(keys))
		for i, key := range keys {
			fields[i] = zap.String(key, config.Fields[key])
		}
		opts = append(opts, zap.Fields(fields...))
	}
	return opts
}

// newEncoder JSON 使用小写级别，控制台使用彩色大写级别
func newEncoder(format Format) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	ec.FunctionKey = zapcore.OmitKey

	if format == ConsoleFormat {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// openSinks 打开控制台、普通文件与轮转文件输出
//
// File 与 Rotate.Filename 相同时只写轮转文件。
func openSinks(config *Config) ([]zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if config.Console {
		sinks = append(sinks, zapcore.Lock(consoleSink{os.Stdout}))
	}

	rotate := config.Rotate
	if config.File != "" && (rotate == nil || rotate.Filename != config.File) {
		f, _, err := zap.Open(config.File)
		if err != nil {
			return nil, fmt.Errorf("logger: open %s: %w", config.File, err)
		}
		sinks = append(sinks, f)
	}

	if rotate != nil {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   rotate.Filename,
			MaxSize:    rotate.MaxSize,
			MaxAge:     rotate.MaxAge,
			MaxBackups: rotate.MaxBackups,
			Compress:   rotate.Compress,
			LocalTime:  true,
		}))
	}

	if len(sinks) == 0 {
		return nil, fmt.Errorf("logger: no output configured")
	}
	return sinks, nil
}
