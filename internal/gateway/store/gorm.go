package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/pkg/metrics"
	"pushgate.com/pkg/orm"
)

// GormStore messages 表，主键 (topic_type, topic_id, message_type, message_id)
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate 建表 + 历史查询索引 idx_messages_topic_created（由 domain.Message 的 tag 声明）
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&domain.Message{}); err != nil {
		return fmt.Errorf("migrate messages: %w", err)
	}
	return nil
}

func (s *GormStore) Save(ctx context.Context, m domain.Message) (err error) {
	defer metrics.ObserveStore("message.insert", time.Now(), &err)
	if err = s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, q Query) (_ []domain.Message, _ int64, err error) {
	defer metrics.ObserveStore("message.list", time.Now(), &err)
	tx := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("topic_type = ? AND topic_id = ?", q.TopicType, q.TopicID)
	if q.MessageType != "" {
		tx = tx.Where("message_type = ?", q.MessageType)
	}
	tx = tx.Session(&gorm.Session{})

	var total int64
	if err = tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	var out []domain.Message
	err = orm.ApplyPagination(tx.Order("created_at DESC").Order("message_id DESC"), q.Page, q.Limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return out, total, nil
}

// MaxSequencer 用表里已有的最大 message_id 继续编号；进程内串行，
// 只适合单实例，多实例部署用 RedisSequencer
type MaxSequencer struct {
	mu   sync.Mutex
	db   *gorm.DB
	last map[domain.Scope]int64
}

func NewMaxSequencer(db *gorm.DB) *MaxSequencer {
	return &MaxSequencer{db: db, last: make(map[domain.Scope]int64, 1024)}
}

func (s *MaxSequencer) Next(ctx context.Context, scope domain.Scope) (_ int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 本进程分配过但可能还没落库的 id
	if n, ok := s.last[scope]; ok {
		s.last[scope] = n + 1
		return n + 1, nil
	}

	defer metrics.ObserveStore("seq.max", time.Now(), &err)
	var cur int64
	err = s.db.WithContext(ctx).Model(&domain.Message{}).
		Select("COALESCE(MAX(message_id), 0)").
		Where("topic_type = ? AND topic_id = ? AND message_type = ?", scope.TopicType, scope.TopicID, scope.MessageType).
		Scan(&cur).Error
	if err != nil {
		return 0, fmt.Errorf("max message_id: %w", err)
	}
	s.last[scope] = cur + 1
	return cur + 1, nil
}
