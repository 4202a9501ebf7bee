package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/internal/gateway/ws"
	"pushgate.com/pkg/logger"
)

func init() { logger.Nop() }

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (p *recordingPublisher) PublishMessage(msg domain.Message) (ws.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return ws.PublishResult{Subscribers: 1, Delivered: 1}, nil
}

func (p *recordingPublisher) snapshot() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Message(nil), p.msgs...)
}

const record = `{"topic_type":"chat","topic_id":"room1","message_type":"text","message_id":7,
"sender_type":"user","sender_id":"u1","content_type":"text/plain","content":"hi","created_at":"2024-05-01T12:30:00Z"}`

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(record))
	require.NoError(t, err)
	assert.Equal(t, "chat", msg.TopicType)
	assert.Equal(t, int64(7), msg.MessageID)
	assert.True(t, msg.CreatedAt.Equal(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)))

	_, err = Decode([]byte(`{"topic_type":"chat"}`))
	assert.ErrorIs(t, err, errMissingTopic)

	_, err = Decode([]byte(`nope`))
	assert.Error(t, err)
}

func TestRunner_PublishesDecodedRecords(t *testing.T) {
	b := NewMemBroker()
	pub := &recordingPublisher{}
	r := NewRunner(b, pub, []string{"pushgate.messages"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	// 等订阅建立
	require.Eventually(t, func() bool {
		_ = b.Publish(ctx, "pushgate.messages", []byte(record))
		return len(pub.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_ = b.Publish(ctx, "pushgate.messages", []byte(`garbage`))
	_ = b.Publish(ctx, "other.subject", []byte(record))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	for _, m := range pub.snapshot() {
		assert.Equal(t, "room1", m.TopicID)
	}
}

func TestRunner_EndToEndBroadcast(t *testing.T) {
	reg := ws.NewRegistry()
	h := ws.NewHandle("c1", 8, nil)
	reg.Register("c1", h)
	require.NoError(t, reg.Subscribe("c1", ws.TopicKey{Type: "chat", ID: "room1"}))

	b := NewMemBroker()
	r := NewRunner(b, ws.NewBroadcaster(reg), []string{"in"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	var got []byte
	require.Eventually(t, func() bool {
		_ = b.Publish(ctx, "in", []byte(record))
		select {
		case got = <-h.Outbound():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(got), `"type":"message"`)
	assert.Contains(t, string(got), `"message_id":7`)
}

func TestMemBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "a", []byte("1")))
	env := <-ch
	assert.Equal(t, Envelope{Subject: "a", Payload: []byte("1")}, env)

	cancel()
	for range ch {
	}
	// 已取消的订阅不再收到，Publish 也不会 panic
	assert.NoError(t, b.Publish(context.Background(), "a", []byte("2")))

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(t, b.subs)
}
