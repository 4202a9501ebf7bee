package metrics

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("redis.incr", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(CBState.WithLabelValues("redis.incr", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(CBState.WithLabelValues("redis.incr", "closed")))

	SetBreakerState("redis.incr", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(CBState.WithLabelValues("redis.incr", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CBState.WithLabelValues("redis.incr", "closed")))
}

func TestObserveStore(t *testing.T) {
	before := testutil.CollectAndCount(StoreDuration)

	var err error
	ObserveStore("test.ok", time.Now(), &err)
	err = errors.New("boom")
	ObserveStore("test.fail", time.Now(), &err)
	ObserveStore("test.nil", time.Now(), nil)

	assert.Equal(t, before+3, testutil.CollectAndCount(StoreDuration))
}

func TestObservePools(t *testing.T) {
	ObserveDBPool(sql.DBStats{OpenConnections: 4, Idle: 1, InUse: 3, WaitCount: 7, WaitDuration: 2 * time.Second})
	assert.Equal(t, 4.0, testutil.ToFloat64(DbPoolOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(DbPoolInuse))
	assert.Equal(t, 2.0, testutil.ToFloat64(DbPoolWaitDuration))

	ObserveRedisPool(&redis.PoolStats{TotalConns: 10, IdleConns: 8, Timeouts: 1})
	assert.Equal(t, 10.0, testutil.ToFloat64(RedisPoolTotal))
	assert.Equal(t, 8.0, testutil.ToFloat64(RedisPoolIdle))
	ObserveRedisPool(nil)
	assert.Equal(t, 10.0, testutil.ToFloat64(RedisPoolTotal))
}
