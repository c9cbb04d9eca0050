package config

import "strings"

// Option 加载器选项
type Option func(*Config)

// WithConfigFile 使用指定文件，忽略名称与搜索路径
func WithConfigFile(path string) Option {
	return func(c *Config) { c.src.file = path }
}

// WithConfigName 按名称（不含扩展名）在搜索路径中查找
func WithConfigName(name string) Option {
	return func(c *Config) { c.src.name = name }
}

// WithConfigType 文件扩展名无法判断类型时指定
func WithConfigType(typ string) Option {
	return func(c *Config) { c.src.typ = typ }
}

// WithConfigPaths 追加搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) { c.src.paths = append(c.src.paths, paths...) }
}

// WithOptional 文件缺失时不报错
func WithOptional(optional bool) Option {
	return func(c *Config) { c.src.optional = optional }
}

// WithDefaults 覆盖内置默认值，键为点分路径
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		if c.defaults == nil {
			c.defaults = make(map[string]any, len(defaults))
		}
		for key, value := range defaults {
			c.defaults[key] = value
		}
	}
}

// WithEnvPrefix 读取带前缀的环境变量
//
// 未指定替换器时 "." 映射为 "_"，WSPIPE_SERVER_ADDR 对应 server.addr。
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.env = prefix
		if c.replacer == nil {
			c.replacer = strings.NewReplacer(".", "_")
		}
	}
}

// WithEnvKeyReplacer 自定义环境变量键名映射
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) { c.replacer = r }
}

// WithAutoWatch 读到配置文件后开始监控
func WithAutoWatch(watch bool) Option {
	return func(c *Config) { c.autoWatch = watch }
}

// WithOnChange 热加载成功后回调
func WithOnChange(fn func(*Settings)) Option {
	return func(c *Config) { c.onChange = fn }
}

// WithOnError 热加载失败时回调，此时保留上一份配置
func WithOnError(fn func(error)) Option {
	return func(c *Config) { c.onError = fn }
}
