package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"pushgate.com/pkg/logger"
)

const natsBufSize = 8192

type NatsBroker struct {
	nc *nats.Conn
}

// NewNatsBroker 连接 NATS；断线自动重连，重连期间的消息由 NATS 客户端缓冲
func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	base := []nats.Option{
		nats.Name("pushgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Warn(context.Background(), "nats disconnected", zap.Error(nc.LastError()))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	return b.nc.Publish(subject, payload)
}

// Subscribe subjects 支持 NATS 通配符（pushgate.messages.>）
func (b *NatsBroker) Subscribe(ctx context.Context, subjects []string) (<-chan Envelope, error) {
	out := make(chan Envelope, natsBufSize)
	subs := make([]*nats.Subscription, 0, len(subjects))

	// Unsubscribe 不等待正在执行的回调，用 closed 标记避免写已关闭的 out
	var (
		mu     sync.RWMutex
		closed bool
	)

	for _, subj := range subjects {
		sub, err := b.nc.Subscribe(subj, func(m *nats.Msg) {
			mu.RLock()
			defer mu.RUnlock()
			if closed {
				return
			}
			// 回调里不能阻塞，满了就丢
			select {
			case out <- Envelope{Subject: m.Subject, Payload: m.Data}:
			default:
				logger.Warn(context.Background(), "ingest buffer full, record dropped", zap.String("subject", m.Subject))
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	err := b.nc.Drain()
	b.nc.Close()
	return err
}
