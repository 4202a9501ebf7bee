package wsclient

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/internal/gateway/ws"
	"pushgate.com/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Nop()
	goleak.VerifyTestMain(m)
}

func TestParseTopics(t *testing.T) {
	cases := []struct {
		in      string
		want    []Topic
		wantErr bool
	}{
		{in: "chat:room1", want: []Topic{{"chat", "room1"}}},
		{in: " chat:a , order:42 ,", want: []Topic{{"chat", "a"}, {"order", "42"}}},
		{in: "chat:a:b", want: []Topic{{"chat", "a:b"}}},
		{in: "", want: nil},
		{in: "chat", wantErr: true},
		{in: ":x", wantErr: true},
		{in: "chat:", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTopics(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		d := jitter(rng, time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
}

func TestClient_SubscribesAndResubscribesAfterKick(t *testing.T) {
	sctx, scancel := context.WithCancel(context.Background())
	reg := ws.NewRegistry()
	srv := ws.NewServer(sctx, reg, ws.NewDispatcher(reg), ws.DefaultOptions())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	defer func() {
		scancel()
		reg.Close()
		srv.Wait()
		ts.Close()
	}()

	got := make(chan []byte, 64)
	c := &Client{
		URL:          "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/cli",
		Topics:       []Topic{{"chat", "room1"}, {"order", "42"}},
		StableReset:  time.Hour,
		OnRawMessage: func(b []byte) { got <- b },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return reg.SubscriptionCount() == 2 }, 3*time.Second, 10*time.Millisecond)
	first, ok := reg.Lookup("cli")
	require.True(t, ok)

	key := ws.TopicKey{Type: "chat", ID: "room1"}
	res, err := ws.NewBroadcaster(reg).Publish(key, domain.Message{
		TopicType: "chat", TopicID: "room1", MessageType: "text", MessageID: 7, Content: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	waitDelivery(t, got, 7)

	// 服务端踢掉后客户端应重连并重新订阅
	require.NoError(t, first.Kick())
	require.Eventually(t, func() bool {
		h, ok := reg.Lookup("cli")
		return ok && h != first && reg.SubscriptionCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
}

func waitDelivery(t *testing.T, got <-chan []byte, id int64) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case b := <-got:
			var f struct {
				Type    string         `json:"type"`
				Message domain.Message `json:"message"`
			}
			require.NoError(t, json.Unmarshal(b, &f))
			if f.Type == "message" {
				assert.Equal(t, id, f.Message.MessageID)
				return
			}
		case <-deadline:
			t.Fatal("delivery not received")
		}
	}
}
