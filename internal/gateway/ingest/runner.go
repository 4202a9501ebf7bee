package ingest

import (
	"context"
	"errors"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/internal/gateway/ws"
	"pushgate.com/pkg/logger"
)

var errMissingTopic = errors.New("record has no topic_type/topic_id")

// Publisher ws.Broadcaster 满足这个接口
type Publisher interface {
	PublishMessage(msg domain.Message) (ws.PublishResult, error)
}

// Runner 订阅上游 subject，把每条记录解码成 domain.Message 后扇出给本地订阅者
type Runner struct {
	broker   Broker
	pub      Publisher
	subjects []string
}

func NewRunner(b Broker, pub Publisher, subjects []string) *Runner {
	return &Runner{broker: b, pub: pub, subjects: subjects}
}

// Run 阻塞到 ctx 取消或上游 channel 关闭
func (r *Runner) Run(ctx context.Context) error {
	ch, err := r.broker.Subscribe(ctx, r.subjects)
	if err != nil {
		return err
	}
	logger.Info(ctx, "ingest started", zap.Strings("subjects", r.subjects))

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, env)
		}
	}
}

func (r *Runner) handle(ctx context.Context, env Envelope) {
	msg, err := Decode(env.Payload)
	if err != nil {
		logger.Warn(ctx, "drop undecodable ingest record", zap.String("subject", env.Subject), zap.Error(err))
		return
	}
	res, err := r.pub.PublishMessage(msg)
	if err != nil {
		logger.Error(ctx, "publish ingest record failed", zap.String("subject", env.Subject), zap.Error(err))
		return
	}
	logger.Debug(ctx, "ingest record published",
		zap.String("subject", env.Subject),
		zap.Int64("message_id", msg.MessageID),
		zap.Int("delivered", res.Delivered),
		zap.Int("dropped", res.Dropped),
	)
}

// Decode 上游记录就是 REST 返回的 Message JSON
func Decode(payload []byte) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.Message{}, err
	}
	if msg.TopicType == "" || msg.TopicID == "" {
		return domain.Message{}, errMissingTopic
	}
	return msg, nil
}
