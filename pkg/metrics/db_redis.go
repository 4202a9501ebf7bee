package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_open",
		Help:      "Current open DB connections",
	})
	DbPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_idle"})
	DbPoolInuse        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_inuse"})
	DbPoolWaitCount    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_count"})
	DbPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_seconds"})

	RedisPoolTotal    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_total"})
	RedisPoolIdle     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_idle"})
	RedisPoolTimeouts = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_timeouts"})

	// 落库 / 编号的耗时，query 例如 message.insert、seq.incr
	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_op_duration_seconds",
		Help:      "Message store and sequencer latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms ~ 16s
	}, []string{"query", "status"})
)

// ObserveStore 在 defer 里调用：defer metrics.ObserveStore("message.insert", time.Now(), &err)
func ObserveStore(query string, start time.Time, err *error) {
	status := "ok"
	if err != nil && *err != nil {
		status = "error"
	}
	StoreDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}

// 连接池是累计值，按采样覆盖
func ObserveDBPool(st sql.DBStats) {
	DbPoolOpen.Set(float64(st.OpenConnections))
	DbPoolIdle.Set(float64(st.Idle))
	DbPoolInuse.Set(float64(st.InUse))
	DbPoolWaitCount.Set(float64(st.WaitCount))
	DbPoolWaitDuration.Set(st.WaitDuration.Seconds())
}

func ObserveRedisPool(st *redis.PoolStats) {
	if st == nil {
		return
	}
	RedisPoolTotal.Set(float64(st.TotalConns))
	RedisPoolIdle.Set(float64(st.IdleConns))
	RedisPoolTimeouts.Set(float64(st.Timeouts))
}
