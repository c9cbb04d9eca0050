package config

import "github.com/fsnotify/fsnotify"

// Watch 监控配置文件（幂等）
func (c *Config) Watch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watching {
		return
	}
	c.watching = true
	c.v.OnConfigChange(c.reload)
	c.v.WatchConfig()
}

// IsWatching 是否正在监控
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

// reload 重新解析变更后的文件，失败时保留上一份配置
func (c *Config) reload(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	c.mu.Lock()
	s, err := c.parse()
	fn := c.onChange
	c.mu.Unlock()

	if err != nil {
		c.fail(err)
		return
	}
	c.current.Store(s)

	// 回调中可能再次读取配置，须在解锁后调用
	if fn != nil {
		fn(s)
	}
}
