package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"pushgate.com/pkg/logger"
)

// Go 安全启动协程：panic 只记录日志，不拖垮整个进程
func Go(name string, fn func()) {
	go func() {
		defer Recover(context.Background(), name)
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，日志里保留 request/client 信息
func GoCtx(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, name)
		fn(ctx)
	}()
}

// Recover 需直接 defer 调用
func Recover(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}
