package ws

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"pushgate.com/internal/gateway/wsmetrics"
	"pushgate.com/pkg/logger"
)

const processFailedPrefix = "Failed to process message: "

// Dispatcher 无状态：每帧 解析 -> 校验 -> 改 Registry -> 产出一个回包
type Dispatcher struct {
	reg *Registry
}

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Dispatch 处理 clientID 发来的一帧原始数据，总是返回 Ack 或 ErrorFrame。
// 校验失败、内部错误都不会断开连接；只有成功处理的帧才刷新活跃时间。
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string, raw []byte) Outbound {
	return d.dispatch(ctx, clientID, nil, raw)
}

// DispatchFrom 同 Dispatch，但订阅操作绑定到连接 h：
// h 被顶替后读到的帧只会得到 not connected，不会落到新连接上
func (d *Dispatcher) DispatchFrom(ctx context.Context, h *Handle, raw []byte) Outbound {
	return d.dispatch(ctx, h.ID(), h, raw)
}

func (d *Dispatcher) dispatch(ctx context.Context, clientID string, h *Handle, raw []byte) (out Outbound) {
	ctx = logger.WithClient(ctx, clientID)
	defer func() {
		if r := recover(); r != nil {
			wsmetrics.FrameErrorsTotal.WithLabelValues("internal").Inc()
			logger.Error(ctx, "dispatch panic", zap.Any("panic", r))
			out = ErrorFrame{Reason: fmt.Sprintf("%s%v", processFailedPrefix, r)}
		}
	}()

	in, err := Decode(raw)
	if err != nil {
		wsmetrics.FrameErrorsTotal.WithLabelValues("invalid").Inc()
		logger.Warn(ctx, "invalid frame", zap.Error(err))
		return ErrorFrame{Reason: err.Error()}
	}

	var op string
	switch f := in.(type) {
	case SubscribeFrame:
		op = TypeSubscribe
		err = d.reg.subscribe(clientID, h, f.Key)
	case UnsubscribeFrame:
		op = TypeUnsubscribe
		d.reg.unsubscribe(clientID, h, f.Key)
	}

	if err != nil {
		wsmetrics.SubOpsTotal.WithLabelValues(op, StatusError).Inc()
		wsmetrics.FrameErrorsTotal.WithLabelValues("internal").Inc()
		if errors.Is(err, ErrNotConnected) {
			logger.Warn(ctx, "frame from unregistered client", zap.String("op", op))
		} else {
			logger.Error(ctx, "failed to process frame", zap.String("op", op), zap.Error(err))
		}
		return ErrorFrame{Reason: processFailedPrefix + err.Error()}
	}

	d.reg.touch(clientID, h)
	wsmetrics.SubOpsTotal.WithLabelValues(op, StatusSuccess).Inc()
	logger.Debug(ctx, op, zap.String("topic", in.Topic().String()))
	return Ack{RequestID: op, Status: StatusSuccess}
}
