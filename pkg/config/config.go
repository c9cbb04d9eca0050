package config

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/tokmz/wspipe/pkg/errors"
)

// source 配置文件定位方式
type source struct {
	file     string   // 完整路径，优先于 name/paths
	name     string   // 不含扩展名的文件名
	typ      string   // yaml/json/toml
	paths    []string // 按顺序搜索
	optional bool     // 文件缺失时仅使用默认值与环境变量
}

// Config 配置加载器
//
// Load 依次叠加内置默认值、WithDefaults、配置文件与环境变量，解析后校验。
type Config struct {
	v  *viper.Viper
	mu sync.RWMutex

	src      source
	defaults map[string]any
	env      string
	replacer *strings.Replacer

	autoWatch bool
	watching  bool
	onChange  func(*Settings)
	onError   func(error)

	current atomic.Pointer[Settings]
}

// New 创建配置加载器
func New(opts ...Option) *Config {
	c := &Config{v: viper.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取并解析配置
func (c *Config) Load() (*Settings, error) {
	s, found, err := c.load()
	if err != nil {
		return nil, err
	}
	c.current.Store(s)

	if c.autoWatch && found {
		c.Watch()
	}
	return s, nil
}

// load 准备 viper 并读取，found 表示实际读到了配置文件
func (c *Config) load() (s *Settings, found bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prepare()
	if err := c.v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, false, ErrConfigReadFailed.WithError(err)
		}
		if !c.src.optional {
			return nil, false, ErrConfigNotFound.WithError(err)
		}
	} else {
		found = true
	}

	s, err = c.parse()
	return s, found, err
}

// prepare 设置默认值、环境变量与文件来源
func (c *Config) prepare() {
	for key, value := range defaultValues() {
		c.v.SetDefault(key, value)
	}
	for key, value := range c.defaults {
		c.v.SetDefault(key, value)
	}

	if c.env != "" {
		c.v.SetEnvPrefix(c.env)
		c.v.AutomaticEnv()
	}
	if c.replacer != nil {
		c.v.SetEnvKeyReplacer(c.replacer)
	}

	if c.src.file != "" {
		c.v.SetConfigFile(c.src.file)
		return
	}
	if c.src.name != "" {
		c.v.SetConfigName(c.src.name)
	}
	if c.src.typ != "" {
		c.v.SetConfigType(c.src.typ)
	}
	for _, path := range c.src.paths {
		c.v.AddConfigPath(path)
	}
}

// parse 解析并校验当前 viper 内容，调用方持有 mu
func (c *Config) parse() (*Settings, error) {
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		return nil, ErrConfigDecodeFailed.WithError(err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Settings 最近一次成功解析的配置，未加载时返回 nil
func (c *Config) Settings() *Settings {
	return c.current.Load()
}

// Viper 底层 viper 实例
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed 实际读取的配置文件
func (c *Config) ConfigFileUsed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.ConfigFileUsed()
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// fail 交给 onError，未设置时写到 stderr
func (c *Config) fail(err error) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()

	if fn == nil {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
		return
	}
	fn(err)
}
