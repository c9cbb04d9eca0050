package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wspipe/pkg/errors"
)

const testYAML = `
server:
  addr: ":9090"
  path: /socket
connection:
  allowed_origins:
    - https://example.com
  strict_origin_check: true
  channels:
    - chat
    - news
  max_connections: 100
heartbeat:
  interval: 20s
  timeout: 5s
  disconnect_dead: true
relay:
  driver: redis
  redis:
    mode: cluster
    addrs:
      - 127.0.0.1:7000
      - 127.0.0.1:7001
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

// replaceTestConfig 通过重命名原子替换配置文件，避免监控读到写了一半的内容
func replaceTestConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	tmp := writeTestConfig(t, dir, "."+filename+".tmp", content)
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, filename)))
}

func TestNew(t *testing.T) {
	c := New()
	assert.NotNil(t, c)
	assert.NotNil(t, c.Viper())
	assert.False(t, c.autoWatch)
	assert.Nil(t, c.Settings())
}

func TestNewWithOptions(t *testing.T) {
	c := New(
		WithAutoWatch(true),
		WithEnvPrefix("TEST"),
		WithOptional(true),
		WithConfigPaths("a"),
		WithConfigPaths("b"),
		WithDefaults(map[string]any{"log.level": "debug"}),
		WithDefaults(map[string]any{"log.format": "console"}),
	)
	assert.True(t, c.autoWatch)
	assert.True(t, c.src.optional)
	assert.Equal(t, []string{"a", "b"}, c.src.paths)
	assert.Len(t, c.defaults, 2)
	assert.Equal(t, "TEST", c.env)
	assert.NotNil(t, c.replacer)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	s, err := c.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", s.Server.Addr)
	assert.Equal(t, "/socket", s.Server.Path)
	assert.Equal(t, []string{"https://example.com"}, s.Connection.AllowedOrigins)
	assert.True(t, s.Connection.StrictOriginCheck)
	assert.Equal(t, []string{"chat", "news"}, s.Connection.Channels)
	assert.Equal(t, 100, s.Connection.MaxConnections)
	assert.Equal(t, 20*time.Second, s.Heartbeat.Interval)
	assert.Equal(t, 5*time.Second, s.Heartbeat.Timeout)
	assert.True(t, s.Heartbeat.DisconnectDead)
	assert.Equal(t, "redis", s.Relay.Driver)
	assert.Equal(t, "cluster", s.Relay.Redis.Mode)
	assert.Len(t, s.Relay.Redis.Addrs, 2)
	assert.Same(t, s, c.Settings())
	assert.Equal(t, cfgPath, c.ConfigFileUsed())
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	s, err := New(WithConfigFile(cfgPath)).Load()
	require.NoError(t, err)

	assert.True(t, s.Heartbeat.Enabled)
	assert.True(t, s.Connection.AllowAnonymousOrigin)
	assert.Equal(t, int64(512*1024), s.Transport.MaxMessageSize)
	assert.Equal(t, 64, s.Transport.BroadcastWorkers)
	assert.Equal(t, "channel", s.Transport.ChannelParam)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "wspipe.broadcast", s.Relay.Topic)
	assert.Equal(t, "/metrics", s.Metrics.Path)
	assert.Equal(t, 1.0, s.Tracing.SamplingRate)
}

func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "wspipe.yaml", testYAML)

	c := New(
		WithConfigName("wspipe"),
		WithConfigType("yaml"),
		WithConfigPaths(dir),
	)
	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", s.Server.Addr)
}

func TestLoadFileNotFound(t *testing.T) {
	c := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	_, err := c.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestLoadOptional(t *testing.T) {
	c := New(
		WithConfigName("absent"),
		WithConfigType("yaml"),
		WithConfigPaths(t.TempDir()),
		WithOptional(true),
	)
	s, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, 30*time.Second, s.Heartbeat.Interval)
}

func TestLoadInvalidContent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", "server: [::\n")

	_, err := New(WithConfigFile(cfgPath)).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigReadFailed))
}

func TestLoadDecodeFailed(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", "heartbeat:\n  interval: soon\n")

	_, err := New(WithConfigFile(cfgPath)).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigDecodeFailed))
}

func TestWithDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	s, err := New(
		WithConfigFile(cfgPath),
		WithDefaults(map[string]any{
			"log.level":    "debug",
			"server.addr":  ":1234",
			"metrics.path": "/prom",
		}),
	).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "/prom", s.Metrics.Path)
	// 文件中的值优先于默认值
	assert.Equal(t, ":9090", s.Server.Addr)
}

func TestWithEnvPrefix(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	t.Setenv("WSPIPE_SERVER_ADDR", ":7777")
	t.Setenv("WSPIPE_HEARTBEAT_TIMEOUT", "3s")

	s, err := New(WithConfigFile(cfgPath), WithEnvPrefix("WSPIPE")).Load()
	require.NoError(t, err)

	assert.Equal(t, ":7777", s.Server.Addr)
	assert.Equal(t, 3*time.Second, s.Heartbeat.Timeout)
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	changed := make(chan *Settings, 4)
	c := New(
		WithConfigFile(cfgPath),
		WithAutoWatch(true),
		WithOnChange(func(s *Settings) {
			changed <- s
		}),
	)
	_, err := c.Load()
	require.NoError(t, err)
	assert.True(t, c.IsWatching())

	replaceTestConfig(t, dir, "config.yaml", "server:\n  addr: \":6060\"\n")

	select {
	case s := <-changed:
		assert.Equal(t, ":6060", s.Server.Addr)
		assert.Equal(t, 30*time.Second, s.Heartbeat.Interval)
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not triggered")
	}
	assert.Eventually(t, func() bool {
		return c.Settings().Server.Addr == ":6060"
	}, time.Second, 10*time.Millisecond)
}

func TestWatchDecodeErrorKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	errs := make(chan error, 4)
	c := New(
		WithConfigFile(cfgPath),
		WithAutoWatch(true),
		WithOnError(func(err error) {
			errs <- err
		}),
	)
	_, err := c.Load()
	require.NoError(t, err)

	replaceTestConfig(t, dir, "config.yaml", "heartbeat:\n  interval: soon\n")

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrConfigDecodeFailed))
	case <-time.After(3 * time.Second):
		t.Fatal("onError not triggered")
	}
	assert.Equal(t, 20*time.Second, c.Settings().Heartbeat.Interval)
}

func TestWatchIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	_, err := c.Load()
	require.NoError(t, err)
	assert.False(t, c.IsWatching())

	c.Watch()
	c.Watch()
	assert.True(t, c.IsWatching())
}

func TestLoadInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "config.yaml", "heartbeat:\n  interval: 5s\n  timeout: 5s\n")

	_, err := New(WithConfigFile(cfgPath)).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
	assert.Contains(t, err.Error(), "heartbeat.timeout")
}

func TestSettingsValidate(t *testing.T) {
	valid := func() *Settings {
		s, err := New(WithOptional(true)).Load()
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"relative path", func(s *Settings) { s.Server.Path = "ws" }, true},
		{"empty path", func(s *Settings) { s.Server.Path = "" }, true},
		{"timeout equals interval", func(s *Settings) { s.Heartbeat.Timeout = s.Heartbeat.Interval }, true},
		{"heartbeat disabled", func(s *Settings) {
			s.Heartbeat.Enabled = false
			s.Heartbeat.Timeout = time.Hour
		}, false},
		{"negative handshake rate", func(s *Settings) { s.Connection.HandshakeRate = -1 }, true},
		{"sampling above one", func(s *Settings) { s.Tracing.SamplingRate = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrConfigInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
