package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wspipe/pkg/config"
	"github.com/tokmz/wspipe/pkg/errors"
	"github.com/tokmz/wspipe/pkg/logger"
	"github.com/tokmz/wspipe/pkg/ws"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s, err := config.New(config.WithOptional(true)).Load()
	require.NoError(t, err)
	s.Server.Mode = "test"
	s.Server.ShutdownTimeout = 2 * time.Second
	s.Tracing.Enabled = false
	s.Heartbeat.Enabled = false
	s.Connection.HandshakeRate = 0
	return s
}

func newTestApp(t *testing.T, s *config.Settings) (*App, *httptest.Server) {
	t.Helper()
	a, err := New(context.Background(), s, WithLogger(logger.NewNop()), WithBannerOutput(io.Discard))
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
		srv.Close()
	})
	return a, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func request(t *testing.T, conn *websocket.Conn, event string, data any) string {
	t.Helper()
	env, err := ws.NewRequest(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
	return env.RequestID
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

// waitCount 等待管线登记连接
func waitCount(t *testing.T, a *App, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return a.Server().Count() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestEcho(t *testing.T) {
	_, srv := newTestApp(t, testSettings(t))
	conn := dial(t, srv, "channel=chat")

	id := request(t, conn, EventEcho, map[string]string{"text": "hello"})

	var resp struct {
		Type      string            `json:"type"`
		RequestID string            `json:"request_id"`
		Code      int               `json:"code"`
		Data      map[string]string `json:"data"`
	}
	readJSON(t, conn, &resp)
	assert.Equal(t, "response", resp.Type)
	assert.Equal(t, id, resp.RequestID)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "hello", resp.Data["text"])
}

func TestPublishAndPresence(t *testing.T) {
	a, srv := newTestApp(t, testSettings(t))
	sender := dial(t, srv, "channel=chat")
	vip := dial(t, srv, "channel=chat&tag=vip")
	other := dial(t, srv, "channel=chat")
	lobby := dial(t, srv, "channel=lobby&tag=vip")
	waitCount(t, a, 4)

	request(t, sender, EventPresence, nil)
	var presence struct {
		Data Presence `json:"data"`
	}
	readJSON(t, sender, &presence)
	assert.Equal(t, Presence{Channel: "chat", Online: 3}, presence.Data)

	request(t, sender, EventPublish, PublishRequest{Tags: []string{"vip"}, Data: json.RawMessage(`"hi vips"`)})

	var ack ws.Response
	readJSON(t, sender, &ack)
	assert.Equal(t, 200, ack.Code)

	var notify ws.Envelope
	readJSON(t, vip, &notify)
	assert.Equal(t, ws.EnvelopeNotify, notify.Type)
	assert.Equal(t, EventMessage, notify.Event)
	assert.JSONEq(t, `"hi vips"`, string(notify.Data))

	// 无标签的连接与其他频道不会收到
	for _, conn := range []*websocket.Conn{other, lobby} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
}

func TestErrorReply(t *testing.T) {
	_, srv := newTestApp(t, testSettings(t))
	conn := dial(t, srv, "channel=chat")

	id := request(t, conn, "missing", nil)
	var resp ws.ErrorResponse
	readJSON(t, conn, &resp)
	assert.Equal(t, ws.EnvelopeError, resp.Type)
	assert.Equal(t, id, resp.RequestID)
	assert.Equal(t, ws.ErrHandlerNotFound.Code, resp.Code)

	// 无法解码的帧没有请求 ID
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var decodeResp ws.ErrorResponse
	readJSON(t, conn, &decodeResp)
	assert.Empty(t, decodeResp.RequestID)
	assert.Equal(t, ws.ErrDecode.Code, decodeResp.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a, srv := newTestApp(t, testSettings(t))
	dial(t, srv, "channel=chat")
	waitCount(t, a, 1)

	resp, err := http.Get(srv.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status      string `json:"status"`
		Node        string `json:"node"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, a.Server().NodeID(), health.Node)
	assert.Equal(t, 1, health.Connections)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wspipe_ws_connections_active 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	s := testSettings(t)
	s.Metrics.Enabled = false
	_, srv := newTestApp(t, s)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandshakeLimit(t *testing.T) {
	s := testSettings(t)
	s.Connection.HandshakeRate = 0.001
	s.Connection.HandshakeBurst = 1
	_, srv := newTestApp(t, s)

	dial(t, srv, "channel=chat")

	conn := dial(t, srv, "channel=chat")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, errors.CloseTryAgainLater, closeErr.Code)
}

func TestNewUnknownRelay(t *testing.T) {
	s := testSettings(t)
	s.Relay.Driver = "kafka"

	_, err := New(context.Background(), s, WithLogger(logger.NewNop()))
	assert.True(t, errors.Is(err, ErrUnknownRelay))

	_, err = New(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestNewInvalidServerOptions(t *testing.T) {
	s := testSettings(t)
	s.Heartbeat.Enabled = true
	s.Heartbeat.Interval = time.Second
	s.Heartbeat.Timeout = 2 * time.Second

	_, err := New(context.Background(), s, WithLogger(logger.NewNop()))
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestReload(t *testing.T) {
	s := testSettings(t)
	a, _ := newTestApp(t, s)
	next := *s
	next.Log.Level = "error"
	assert.False(t, restartRequired(s, &next))
	a.Reload(&next)
	assert.Same(t, &next, a.Settings())
	assert.Equal(t, logger.ErrorLevel, a.logger.Level())

	moved := next
	moved.Server.Addr = ":9999"
	assert.True(t, restartRequired(&next, &moved))
}

func TestRun(t *testing.T) {
	s := testSettings(t)
	s.Server.Addr = "127.0.0.1:0"
	a, err := New(context.Background(), s, WithLogger(logger.NewNop()), WithBannerOutput(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.httpServer != nil
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NoError(t, a.Shutdown(context.Background()))
}

func TestRunListenError(t *testing.T) {
	s := testSettings(t)
	s.Server.Addr = "256.0.0.1:bad"
	a, err := New(context.Background(), s, WithLogger(logger.NewNop()), WithBannerOutput(io.Discard))
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	assert.Error(t, a.Run(context.Background()))
}
