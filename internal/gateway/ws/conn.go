package ws

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull 慢客户端：发送队列满，本条丢弃
	ErrQueueFull = errors.New("outbound queue full")
	// ErrClosed 连接已关闭或正在关闭
	ErrClosed = errors.New("connection closed")
)

type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle 一条活跃连接：有界发送队列 + 最近活跃时间 + 状态。
// 只由 Registry 创建/销毁；写协程从 Outbound() 取数据，Done() 关闭即退出。
type Handle struct {
	id     string
	send   chan []byte
	done   chan struct{}
	closer io.Closer // 底层 transport，可为 nil

	state      atomic.Int32
	lastActive atomic.Int64 // 相对 Registry.epoch 的纳秒（单调时钟）
	dropped    atomic.Uint64

	closeOnce sync.Once
	kickOnce  sync.Once
}

func NewHandle(clientID string, sendBuf int, closer io.Closer) *Handle {
	if sendBuf <= 0 {
		sendBuf = 1
	}
	return &Handle{
		id:     clientID,
		send:   make(chan []byte, sendBuf),
		done:   make(chan struct{}),
		closer: closer,
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) State() State { return State(h.state.Load()) }

// Outbound 写协程消费的队列
func (h *Handle) Outbound() <-chan []byte { return h.send }

// Done teardown 完成后关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Dropped 因队列满被丢弃的条数
func (h *Handle) Dropped() uint64 { return h.dropped.Load() }

// Offer 非阻塞入队：队列满或已关闭直接返回错误，绝不阻塞发布方
func (h *Handle) Offer(payload []byte) error {
	if h.State() != StateOpen {
		return ErrClosed
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.send <- payload:
		return nil
	default:
		h.dropped.Add(1)
		return ErrQueueFull
	}
}

// Reply 回给本连接自己请求的 ack/error：阻塞到入队或连接关闭
func (h *Handle) Reply(payload []byte) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.send <- payload:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// Kick 强制断开底层 transport（不发 close 帧），状态置为 closing
func (h *Handle) Kick() error {
	var err error
	h.kickOnce.Do(func() {
		h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		if h.closer != nil {
			err = h.closer.Close()
		}
	})
	return err
}

// shutdown 关闭 done，通知写协程退出；幂等。
// 不 close(send)：并发的 Offer 不会 panic，残留数据随 Handle 一起回收。
func (h *Handle) shutdown() bool {
	closed := false
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosed))
		close(h.done)
		closed = true
	})
	return closed
}
