package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testGateway struct {
	reg *Registry
	bc  *Broadcaster
	srv *Server
	ts  *httptest.Server
	url string

	cancel context.CancelFunc
}

func newTestGateway(t *testing.T, opts Options) *testGateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry()
	srv := NewServer(ctx, reg, NewDispatcher(reg), opts)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		srv.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))

	g := &testGateway{
		reg:    reg,
		bc:     NewBroadcaster(reg),
		srv:    srv,
		ts:     ts,
		url:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/",
		cancel: cancel,
	}
	t.Cleanup(g.close)
	return g
}

func (g *testGateway) close() {
	g.cancel()
	g.reg.Close()
	g.srv.Wait()
	g.ts.Close()
}

func (g *testGateway) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(g.url+clientID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func read(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func subscribe(t *testing.T, c *websocket.Conn, topicType, topicID string) {
	t.Helper()
	send(t, c, `{"type":"subscribe","topic_type":"`+topicType+`","topic_id":"`+topicID+`"}`)
	assert.Equal(t, map[string]any{"type": "ack", "request_id": "subscribe", "status": "success"}, read(t, c))
}

func TestServer_E2E_SubscribePublishUnsubscribe(t *testing.T) {
	g := newTestGateway(t, DefaultOptions())
	c1 := g.dial(t, "c1")
	room := TopicKey{Type: "chat", ID: "room1"}

	subscribe(t, c1, "chat", "room1")

	res, err := g.bc.Publish(room, sampleMessage(123))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	got := read(t, c1)
	assert.Equal(t, "message", got["type"])
	msg := got["message"].(map[string]any)
	assert.Equal(t, "chat", msg["topic_type"])
	assert.Equal(t, "room1", msg["topic_id"])
	assert.EqualValues(t, 123, msg["message_id"])
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, "2024-05-01T12:30:00Z", msg["created_at"])

	send(t, c1, `{"type":"unsubscribe","topic_type":"chat","topic_id":"room1"}`)
	assert.Equal(t, map[string]any{"type": "ack", "request_id": "unsubscribe", "status": "success"}, read(t, c1))

	res, err = g.bc.Publish(room, sampleMessage(124))
	require.NoError(t, err)
	assert.Equal(t, PublishResult{}, res)
}

func TestServer_E2E_ErrorsKeepConnectionOpen(t *testing.T) {
	g := newTestGateway(t, DefaultOptions())
	c := g.dial(t, "c1")

	send(t, c, `{"type":"frobnicate"}`)
	assert.Equal(t, map[string]any{"type": "error", "error": "Unknown message type: frobnicate"}, read(t, c))

	send(t, c, `{{{`)
	got := read(t, c)
	assert.Equal(t, "error", got["type"])
	assert.True(t, strings.HasPrefix(got["error"].(string), "Invalid JSON"))

	subscribe(t, c, "chat", "room1")
}

func TestServer_E2E_SupersedeSameClientID(t *testing.T) {
	g := newTestGateway(t, DefaultOptions())
	room := TopicKey{Type: "chat", ID: "room1"}

	first := g.dial(t, "dup")
	subscribe(t, first, "chat", "room1")

	second := g.dial(t, "dup")
	subscribe(t, second, "chat", "room1")

	// 第一条连接被服务端关闭
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	res, err := g.bc.Publish(room, sampleMessage(1))
	require.NoError(t, err)
	assert.Equal(t, PublishResult{Subscribers: 1, Delivered: 1}, res)
	assert.Equal(t, "message", read(t, second)["type"])
	assert.Equal(t, 1, g.reg.ConnectionCount())
}

func TestServer_E2E_DisconnectTearsDown(t *testing.T) {
	g := newTestGateway(t, DefaultOptions())
	c := g.dial(t, "c1")
	subscribe(t, c, "chat", "room1")
	require.Equal(t, 1, g.reg.SubscriptionCount())

	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = c.Close()

	require.Eventually(t, func() bool {
		return g.reg.ConnectionCount() == 0 && g.reg.TopicCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_E2E_FrameRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.FrameRPS = 0.001
	opts.FrameBurst = 1
	g := newTestGateway(t, opts)
	c := g.dial(t, "c1")

	subscribe(t, c, "chat", "room1")
	send(t, c, `{"type":"subscribe","topic_type":"chat","topic_id":"room2"}`)
	assert.Equal(t, map[string]any{"type": "error", "error": "Rate limit exceeded"}, read(t, c))
	assert.Equal(t, 1, g.reg.SubscriptionCount())
}

func TestServer_E2E_ReaperClosesIdle(t *testing.T) {
	g := newTestGateway(t, DefaultOptions())
	c := g.dial(t, "c1")
	subscribe(t, c, "chat", "room1")

	r, err := NewReaper(g.reg, 20*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r.Sweep(g.reg.Now())
		return g.reg.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = c.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, g.reg.SubscriptionCount())
}

func TestServer_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry()
	srv := NewServer(ctx, reg, NewDispatcher(reg), DefaultOptions())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeWS(w, r, "c1")
	}))

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	subscribe(t, c, "chat", "room1")

	cancel()
	reg.Close()
	srv.Wait()
	_ = c.Close()
	ts.Close()
}
