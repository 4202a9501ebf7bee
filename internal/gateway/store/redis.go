package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/pkg/metrics"
	"pushgate.com/pkg/ratelimit"
)

const breakerName = "redis.incr"

type incrClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisSequencer 每个 scope 一个 INCR key，多实例共享编号；
// redis 连续失败时熔断，快速返回错误而不是拖住发布请求
type RedisSequencer struct {
	rdb    incrClient
	prefix string
	cb     *ratelimit.Manager
}

func NewRedisSequencer(rdb redis.Cmdable, prefix string, cb *ratelimit.Manager) *RedisSequencer {
	return newRedisSequencer(rdb, prefix, cb)
}

func newRedisSequencer(rdb incrClient, prefix string, cb *ratelimit.Manager) *RedisSequencer {
	if prefix == "" {
		prefix = "pushgate:seq"
	}
	if cb == nil {
		cb = ratelimit.NewManager(ratelimit.Rule{})
	}
	return &RedisSequencer{rdb: rdb, prefix: prefix, cb: cb}
}

func (s *RedisSequencer) Next(ctx context.Context, scope domain.Scope) (id int64, err error) {
	defer metrics.ObserveStore("seq.incr", time.Now(), &err)
	key := s.Key(scope)
	err = s.cb.Do(breakerName, func() error {
		n, err := s.rdb.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		id = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return id, nil
}

// Key scope 各段转义后用 ':' 拼接，段内的 ':' 不会造成歧义
func (s *RedisSequencer) Key(scope domain.Scope) string {
	parts := []string{
		s.prefix,
		url.QueryEscape(scope.TopicType),
		url.QueryEscape(scope.TopicID),
		url.QueryEscape(scope.MessageType),
	}
	return strings.Join(parts, ":")
}
