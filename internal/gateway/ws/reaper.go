package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"pushgate.com/internal/gateway/wsmetrics"
	"pushgate.com/pkg/logger"
)

var ErrInvalidReaperConfig = errors.New("reaper: timeout and interval must be positive and interval < timeout")

// Reaper 周期扫描空闲连接并强制断开
type Reaper struct {
	reg      *Registry
	timeout  time.Duration
	interval time.Duration
}

func NewReaper(reg *Registry, timeout, interval time.Duration) (*Reaper, error) {
	if timeout <= 0 || interval <= 0 || interval >= timeout {
		return nil, ErrInvalidReaperConfig
	}
	return &Reaper{reg: reg, timeout: timeout, interval: interval}, nil
}

// Run 阻塞直到 ctx 取消
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	logger.Info(ctx, "reaper started",
		zap.Duration("timeout", r.timeout), zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "reaper stopped")
			return nil
		case <-t.C:
			if n := r.Sweep(r.reg.Now()); n > 0 {
				logger.Info(ctx, "reaped inactive clients", zap.Int("count", n))
			}
		}
	}
}

// Sweep 单次扫描，返回被断开的连接数
func (r *Reaper) Sweep(now time.Time) int {
	n := 0
	for _, id := range r.reg.SnapshotStale(r.timeout, now) {
		h, ok := r.reg.Lookup(id)
		if !ok {
			// 扫描之后已正常断开
			continue
		}
		// 扫描之后有新帧，或者被新连接顶替
		if r.reg.IdleFor(h, now) < r.timeout {
			continue
		}
		_ = h.Kick()
		if r.reg.Release(h) {
			n++
			wsmetrics.ReapedTotal.Inc()
			logger.Info(logger.WithClient(context.Background(), id), "client inactive, connection closed",
				zap.Duration("idle", r.reg.IdleFor(h, now)))
		}
	}
	return n
}
