package ingest

import "context"

// Envelope 上游投递过来的一条原始记录
type Envelope struct {
	Subject string
	Payload []byte
}

// Broker 上游消息来源：单机用内存，多服务用 NATS
type Broker interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	// Subscribe 返回的 channel 在 ctx 取消后关闭
	Subscribe(ctx context.Context, subjects []string) (<-chan Envelope, error)
	Close() error
}
