package wsclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"pushgate.com/pkg/logger"
)

const (
	minBackoff   = 200 * time.Millisecond
	maxBackoff   = 10 * time.Second
	dialTimeout  = 5 * time.Second
	writeTimeout = 2 * time.Second
	pingPeriod   = 20 * time.Second
)

// Topic 订阅目标
type Topic struct {
	Type string
	ID   string
}

// Client 断线自动重连的订阅客户端，每次连上都会重新订阅 Topics
type Client struct {
	URL    string
	Topics []Topic
	// 连接稳定超过这个时长后重置退避
	StableReset  time.Duration
	OnRawMessage func([]byte)
}

type subscribeMsg struct {
	Type      string `json:"type"`
	TopicType string `json:"topic_type"`
	TopicID   string `json:"topic_id"`
}

// ParseTopics 解析 "chat:room1,order:42" 形式的参数
func ParseTopics(s string) ([]Topic, error) {
	var out []Topic
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		typ, id, ok := strings.Cut(part, ":")
		if !ok || typ == "" || id == "" {
			return nil, fmt.Errorf("invalid topic %q, want type:id", part)
		}
		out = append(out, Topic{Type: typ, ID: id})
	}
	return out, nil
}

// Run 阻塞直到 ctx 取消
func (c *Client) Run(ctx context.Context) error {
	backoff := minBackoff
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for ctx.Err() == nil {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, _, err := websocket.Dial(dctx, c.URL, nil)
		cancel()
		if err != nil {
			wait := jitter(rng, backoff)
			logger.Warn(ctx, "dial failed", zap.String("url", c.URL), zap.Duration("retry_in", wait), zap.Error(err))
			if !sleepCtx(ctx, wait) {
				break
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		logger.Info(ctx, "connected", zap.String("url", c.URL))
		start := time.Now()
		err = c.serve(ctx, conn)
		_ = conn.CloseNow()
		if time.Since(start) >= c.StableReset {
			backoff = minBackoff
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "connection ended", zap.Error(err),
				zap.Int("close_status", int(websocket.CloseStatus(err))))
		}
	}
	return ctx.Err()
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	for _, t := range c.Topics {
		if err := writeJSON(ctx, conn, subscribeMsg{Type: "subscribe", TopicType: t.Type, TopicID: t.ID}); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	// 控制帧由 Read 内部处理，服务端的 ping 会自动回 pong
	go func() {
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				errCh <- err
				return
			}
			if c.OnRawMessage != nil {
				c.OnRawMessage(msg)
			}
		}
	}()

	pingT := time.NewTicker(pingPeriod)
	defer pingT.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingT.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// 0.5x ~ 1.5x
func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rng.Float64()))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}
