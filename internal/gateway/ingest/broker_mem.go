package ingest

import (
	"context"
	"sync"
)

const memBufSize = 4096

// MemBroker 进程内 Broker，精确匹配 subject；慢订阅者直接丢（at-most-once）
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Envelope]struct{}
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string]map[chan Envelope]struct{})}
}

func (b *MemBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	env := Envelope{Subject: subject, Payload: payload}
	for ch := range b.subs[subject] {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, subjects []string) (<-chan Envelope, error) {
	ch := make(chan Envelope, memBufSize)
	b.mu.Lock()
	for _, s := range subjects {
		set := b.subs[s]
		if set == nil {
			set = make(map[chan Envelope]struct{})
			b.subs[s] = set
		}
		set[ch] = struct{}{}
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		// 先摘掉再 close，Publish 持有读锁，不会写已关闭的 channel
		b.mu.Lock()
		for _, s := range subjects {
			if set := b.subs[s]; set != nil {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, s)
				}
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *MemBroker) Close() error { return nil }
