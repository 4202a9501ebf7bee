package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"pushgate.com/internal/gateway/domain"
	"pushgate.com/pkg/orm"
)

var ErrDuplicate = errors.New("store: duplicate message key")

type memKey struct {
	scope domain.Scope
	id    int64
}

// MemStore 单进程内存实现，本地开发和测试用
type MemStore struct {
	mu   sync.RWMutex
	rows []domain.Message
	keys map[memKey]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{keys: make(map[memKey]struct{}, 1024)}
}

func (s *MemStore) Save(ctx context.Context, m domain.Message) error {
	k := memKey{scope: m.Scope(), id: m.MessageID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k]; ok {
		return ErrDuplicate
	}
	s.keys[k] = struct{}{}
	s.rows = append(s.rows, m)
	return nil
}

// List 最新的在前
func (s *MemStore) List(ctx context.Context, q Query) ([]domain.Message, int64, error) {
	s.mu.RLock()
	var hit []domain.Message
	for _, m := range s.rows {
		if m.TopicType != q.TopicType || m.TopicID != q.TopicID {
			continue
		}
		if q.MessageType != "" && m.MessageType != q.MessageType {
			continue
		}
		hit = append(hit, m)
	}
	s.mu.RUnlock()

	sort.SliceStable(hit, func(i, j int) bool {
		if !hit[i].CreatedAt.Equal(hit[j].CreatedAt) {
			return hit[i].CreatedAt.After(hit[j].CreatedAt)
		}
		return hit[i].MessageID > hit[j].MessageID
	})

	total := int64(len(hit))
	off := orm.Offset(q.Page, q.Limit)
	if off >= len(hit) {
		return []domain.Message{}, total, nil
	}
	_, limit := orm.Normalize(q.Page, q.Limit)
	end := off + limit
	if end > len(hit) {
		end = len(hit)
	}
	return hit[off:end], total, nil
}

// MemSequencer 进程内计数
type MemSequencer struct {
	mu  sync.Mutex
	seq map[domain.Scope]int64
}

func NewMemSequencer() *MemSequencer {
	return &MemSequencer{seq: make(map[domain.Scope]int64, 1024)}
}

func (s *MemSequencer) Next(ctx context.Context, scope domain.Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[scope]++
	return s.seq[scope], nil
}
