package ws

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/internal/gateway/wsmetrics"
	"pushgate.com/pkg/logger"
)

// PublishResult 一次 publish 的尽力而为统计
type PublishResult struct {
	Subscribers int `json:"subscribers"`
	Delivered   int `json:"delivered"`
	Dropped     int `json:"dropped"`
}

// Broadcaster 按 topic 扇出。不持有全局锁：不同 topic 的 publish 互不阻塞，
// 慢订阅者只会让自己那一条被丢弃。
type Broadcaster struct {
	reg *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

// Publish 编码一次，扇出给 key 的全部订阅者
func (b *Broadcaster) Publish(key TopicKey, msg domain.Message) (PublishResult, error) {
	payload, err := Encode(Delivery{Message: msg})
	if err != nil {
		return PublishResult{}, err
	}
	return b.PublishRaw(key, payload), nil
}

// PublishMessage topic 取自消息本身
func (b *Broadcaster) PublishMessage(msg domain.Message) (PublishResult, error) {
	return b.Publish(TopicKey{Type: msg.TopicType, ID: msg.TopicID}, msg)
}

// PublishRaw payload 已经是完整的出站帧
func (b *Broadcaster) PublishRaw(key TopicKey, payload []byte) PublishResult {
	subs := b.reg.Subscribers(key)
	res := PublishResult{Subscribers: len(subs)}
	wsmetrics.Fanout.Observe(float64(len(subs)))
	if len(subs) == 0 {
		return res
	}

	for _, h := range subs {
		switch err := h.Offer(payload); {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrQueueFull):
			res.Dropped++
			wsmetrics.OnDrop("queue_full")
			logger.Debug(logger.WithClient(context.Background(), h.ID()),
				"outbound queue full, message dropped", zap.String("topic", key.String()))
		default:
			res.Dropped++
			wsmetrics.OnDrop("closed")
		}
	}
	wsmetrics.DeliveredTotal.Add(float64(res.Delivered))
	logger.Debug(context.Background(), "published",
		zap.String("topic", key.String()),
		zap.Int("subscribers", res.Subscribers),
		zap.Int("delivered", res.Delivered),
		zap.Int("dropped", res.Dropped),
	)
	return res
}
