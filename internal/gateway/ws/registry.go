package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"pushgate.com/internal/gateway/wsmetrics"
	"pushgate.com/pkg/logger"
)

// ErrNotConnected 对未注册的 client 做订阅
var ErrNotConnected = errors.New("client is not connected")

type NotConnectedError struct {
	ClientID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("client %s is not connected", e.ClientID)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// Registry 连接表 + TopicIndex，"谁在线、谁订阅了什么"的唯一来源。
//
// 锁：一把 RWMutex 同时保护 conns 和 index。teardown（删 conns + RemoveAll）
// 在同一次写锁内完成，所以 Subscribers 拿到的快照要么完整包含、要么完全不含
// 某个连接；teardown 之后开始的广播一定看不到它。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Handle
	index *TopicIndex

	now   func() time.Time
	epoch time.Time
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(time.Now)
}

// NewRegistryWithClock 测试里注入假时钟
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		conns: make(map[string]*Handle, 1024),
		index: NewTopicIndex(),
		now:   now,
		epoch: now(),
	}
}

// Now 注册表使用的时钟
func (r *Registry) Now() time.Time { return r.now() }

func (r *Registry) mono(t time.Time) int64 { return int64(t.Sub(r.epoch)) }

// Register 安装或替换 clientID 的连接。已有旧连接时先拆掉旧的
// （订阅清空、发送队列关闭），再装新的，旧连接不会再收到任何投递。
func (r *Registry) Register(clientID string, h *Handle) (superseded bool) {
	h.lastActive.Store(r.mono(r.now()))

	r.mu.Lock()
	old := r.conns[clientID]
	if old != nil && old != h {
		r.index.RemoveAll(clientID)
	}
	r.conns[clientID] = h
	r.mu.Unlock()

	ctx := logger.WithClient(context.Background(), clientID)
	if old != nil && old != h {
		old.shutdown()
		wsmetrics.SupersededTotal.Inc()
		logger.Warn(ctx, "client already connected, replacing connection")
		superseded = true
	}
	wsmetrics.Registered.Set(float64(r.ConnectionCount()))
	logger.Info(ctx, "client connected")
	return superseded
}

// Touch 刷新最近活跃时间；未知 client 忽略
func (r *Registry) Touch(clientID string) {
	r.touch(clientID, nil)
}

// TouchHandle 只在 h 仍是当前连接时刷新
func (r *Registry) TouchHandle(h *Handle) {
	r.touch(h.id, h)
}

func (r *Registry) touch(clientID string, want *Handle) {
	r.mu.RLock()
	h := r.current(clientID, want)
	r.mu.RUnlock()
	if h != nil {
		h.lastActive.Store(r.mono(r.now()))
	}
}

// current 调用方持有锁。want 非空时要求 clientID 的当前连接就是 want，
// 被顶替的旧连接拿到 nil
func (r *Registry) current(clientID string, want *Handle) *Handle {
	h := r.conns[clientID]
	if want != nil && h != want {
		return nil
	}
	return h
}

// Unregister 幂等：删连接、清订阅、关闭发送队列
func (r *Registry) Unregister(clientID string) bool {
	r.mu.Lock()
	h := r.conns[clientID]
	if h == nil {
		r.mu.Unlock()
		return false
	}
	n := r.teardownLocked(clientID)
	r.mu.Unlock()

	h.shutdown()
	r.afterTeardown(clientID, n)
	return true
}

// Release 只有 h 仍是 clientID 的当前连接时才 teardown；
// 被顶替的旧连接退出时调用它，不会误删新连接。h 本身总会被关闭。
func (r *Registry) Release(h *Handle) bool {
	r.mu.Lock()
	if r.conns[h.id] != h {
		r.mu.Unlock()
		h.shutdown()
		return false
	}
	n := r.teardownLocked(h.id)
	r.mu.Unlock()

	h.shutdown()
	r.afterTeardown(h.id, n)
	return true
}

func (r *Registry) teardownLocked(clientID string) int {
	delete(r.conns, clientID)
	return r.index.RemoveAll(clientID)
}

func (r *Registry) afterTeardown(clientID string, subs int) {
	wsmetrics.Registered.Set(float64(r.ConnectionCount()))
	logger.Info(logger.WithClient(context.Background(), clientID),
		"client disconnected and cleaned up", zap.Int("subscriptions", subs))
}

// Lookup 当前连接
func (r *Registry) Lookup(clientID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[clientID]
	return h, ok
}

// IdleFor h 距离最近一次活跃过去了多久
func (r *Registry) IdleFor(h *Handle, now time.Time) time.Duration {
	return time.Duration(r.mono(now) - h.lastActive.Load())
}

// SnapshotStale 只读扫描：返回空闲时间 >= threshold 的 client
func (r *Registry) SnapshotStale(threshold time.Duration, now time.Time) []string {
	cut := r.mono(now) - int64(threshold)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, h := range r.conns {
		if h.lastActive.Load() <= cut {
			out = append(out, id)
		}
	}
	return out
}

// Subscribe 订阅要求 client 在线
func (r *Registry) Subscribe(clientID string, key TopicKey) error {
	return r.subscribe(clientID, nil, key)
}

// SubscribeHandle 以 h 的身份订阅；h 已被顶替或拆除时返回 ErrNotConnected，
// 不会改到同 id 的新连接上
func (r *Registry) SubscribeHandle(h *Handle, key TopicKey) error {
	return r.subscribe(h.id, h, key)
}

func (r *Registry) subscribe(clientID string, want *Handle, key TopicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current(clientID, want) == nil {
		return &NotConnectedError{ClientID: clientID}
	}
	r.index.Subscribe(clientID, key)
	return nil
}

// Unsubscribe 幂等；client 不在线时静默忽略
func (r *Registry) Unsubscribe(clientID string, key TopicKey) error {
	r.unsubscribe(clientID, nil, key)
	return nil
}

// UnsubscribeHandle h 不是当前连接时静默忽略
func (r *Registry) UnsubscribeHandle(h *Handle, key TopicKey) error {
	r.unsubscribe(h.id, h, key)
	return nil
}

func (r *Registry) unsubscribe(clientID string, want *Handle, key TopicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current(clientID, want) == nil {
		return
	}
	r.index.Unsubscribe(clientID, key)
}

// Subscribers topic 当前订阅者的连接快照
func (r *Registry) Subscribers(key TopicKey) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.index.SubscribersOf(key)
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Handle, 0, len(ids))
	for _, id := range ids {
		if h := r.conns[id]; h != nil {
			out = append(out, h)
		}
	}
	return out
}

// SubscriberIDs topic 当前订阅者 id 快照
func (r *Registry) SubscriberIDs(key TopicKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.SubscribersOf(key)
}

func (r *Registry) ClientSubscriptions(clientID string) []TopicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.TopicsOf(clientID)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.SubscriptionCount()
}

func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.TopicCount()
}

// Close 服务停止：拆掉全部连接并断开 transport
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Handle, 0, len(r.conns))
	for _, h := range r.conns {
		all = append(all, h)
	}
	r.conns = make(map[string]*Handle)
	r.index = NewTopicIndex()
	r.mu.Unlock()

	for _, h := range all {
		h.shutdown()
		_ = h.Kick()
	}
	wsmetrics.Registered.Set(0)
	logger.Info(context.Background(), "registry closed", zap.Int("connections", len(all)))
}
