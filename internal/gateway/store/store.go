package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/pkg/logger"
	"pushgate.com/pkg/orm"
	"pushgate.com/pkg/xerr"
)

const tracerName = "pushgate/store"

// Store 消息持久化
type Store interface {
	Save(ctx context.Context, m domain.Message) error
	List(ctx context.Context, q Query) ([]domain.Message, int64, error)
}

// Sequencer 为每个 scope 分配递增的 message_id，从 1 开始
type Sequencer interface {
	Next(ctx context.Context, scope domain.Scope) (int64, error)
}

// Query 历史消息查询；MessageType 为空表示该 topic 下全部类型
type Query struct {
	TopicType   string
	TopicID     string
	MessageType string
	Page        int
	Limit       int
}

func (q Query) normalized() Query {
	q.Page, q.Limit = orm.Normalize(q.Page, q.Limit)
	return q
}

// Persister 分配 id + 落库，REST 发布入口用
type Persister struct {
	store Store
	seq   Sequencer
	now   func() time.Time
}

func NewPersister(s Store, seq Sequencer) *Persister {
	return &Persister{store: s, seq: seq, now: time.Now}
}

// Persist 校验、分配 message_id、写入存储；返回落库后的完整记录
func (p *Persister) Persist(ctx context.Context, c domain.MessageCreate) (domain.Message, error) {
	if err := c.Validate(); err != nil {
		return domain.Message{}, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "store.Persist")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic_type", c.TopicType),
		attribute.String("topic_id", c.TopicID),
		attribute.String("message_type", c.MessageType),
	)

	id, err := p.seq.Next(ctx, c.Scope())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sequence")
		logger.Error(ctx, "allocate message id failed", zap.Error(err))
		return domain.Message{}, xerr.Wrap(err, xerr.DbError, "Failed to persist message")
	}
	span.SetAttributes(attribute.Int64("message_id", id))

	m := c.Build(id, p.now())
	if err := p.store.Save(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save")
		logger.Error(ctx, "persist message failed", zap.Error(err),
			zap.String("topic_type", m.TopicType), zap.String("topic_id", m.TopicID))
		return domain.Message{}, xerr.Wrap(err, xerr.DbError, "Failed to persist message")
	}

	logger.Info(ctx, "message persisted",
		zap.String("topic_type", m.TopicType),
		zap.String("topic_id", m.TopicID),
		zap.String("message_type", m.MessageType),
		zap.Int64("message_id", m.MessageID),
	)
	return m, nil
}

func (p *Persister) History(ctx context.Context, q Query) ([]domain.Message, int64, error) {
	if q.TopicType == "" || q.TopicID == "" {
		return nil, 0, xerr.New(xerr.RequestParamsError, "topic_type and topic_id are required")
	}
	list, total, err := p.store.List(ctx, q.normalized())
	if err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "Failed to load messages")
	}
	return list, total, nil
}
