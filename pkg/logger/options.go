package logger

// Option 配置选项函数
type Option func(*Config)

// WithLevel 设置日志级别
func WithLevel(level Level) Option {
	return func(c *Config) {
		c.Level = level
	}
}

// WithLevelName 按名称设置级别，未知名称为 info
func WithLevelName(name string) Option {
	return WithLevel(ParseLevel(name))
}

// WithFormat 设置日志格式（json/console）
func WithFormat(format Format) Option {
	return func(c *Config) {
		if format != "" {
			c.Format = format
		}
	}
}

// WithConsole 输出到 stdout
func WithConsole() Option {
	return func(c *Config) {
		c.Console = true
	}
}

// WithFile 追加写入文件，不轮转
func WithFile(filename string) Option {
	return func(c *Config) {
		c.File = filename
	}
}

// WithRotation 按大小轮转写入文件；Filename 为空时忽略
func WithRotation(rotate RotateConfig) Option {
	return func(c *Config) {
		if rotate.Filename == "" {
			return
		}
		c.Rotate = &rotate
	}
}

// WithSampling 每秒前 initial 条必记，之后每 thereafter 条记 1 条
//
// 高并发广播失败等重复日志用它限流。
func WithSampling(initial, thereafter int) Option {
	return func(c *Config) {
		c.Sampling = &SamplingConfig{Initial: initial, Thereafter: thereafter}
	}
}

func WithCaller(enable bool) Option {
	return func(c *Config) {
		c.EnableCaller = enable
	}
}

func WithStacktrace(enable bool) Option {
	return func(c *Config) {
		c.EnableStacktrace = enable
	}
}

// WithName 设置 Logger 名称（输出为 logger 字段）
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithField 每条日志都携带的固定字段（如节点 ID）
func WithField(key, value string) Option {
	return func(c *Config) {
		if c.Fields == nil {
			c.Fields = make(map[string]string)
		}
		c.Fields[key] = value
	}
}

// WithHook 添加 Hook
func WithHook(hook Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hook)
	}
}
