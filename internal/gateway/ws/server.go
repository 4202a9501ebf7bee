package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"pushgate.com/internal/gateway/wsmetrics"
	"pushgate.com/pkg/logger"
	"pushgate.com/pkg/metrics"
	"pushgate.com/pkg/ratelimit"
	"pushgate.com/pkg/safe"
)

const rateLimitedReason = "Rate limit exceeded"

type Options struct {
	SendBuffer int   // 每连接发送队列长度
	ReadLimit  int64 // 单帧最大字节
	MaxBatch   int   // 写协程一次唤醒最多写多少帧

	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration // 必须小于 PongWait
	PingJitter time.Duration

	FrameRPS   float64 // 每连接入站帧限速，<=0 不限
	FrameBurst int
}

func DefaultOptions() Options {
	return Options{
		SendBuffer: 256,
		ReadLimit:  64 << 10,
		MaxBatch:   64,
		WriteWait:  5 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		FrameRPS:   0,
		FrameBurst: 0,
	}
}

// Server websocket 传输层：握手、读写两个 pump、ping/pong。
// 协议语义全部交给 Dispatcher，连接生命周期交给 Registry。
type Server struct {
	reg      *Registry
	disp     *Dispatcher
	upgrader websocket.Upgrader
	ctx      context.Context
	opts     Options

	wg sync.WaitGroup
}

func NewServer(ctx context.Context, reg *Registry, disp *Dispatcher, opts Options) *Server {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = def.MaxBatch
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	return &Server{
		reg:  reg,
		disp: disp,
		ctx:  ctx,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 鉴权不在网关这一层
		},
	}
}

// ServeWS 升级连接并注册到 Registry；同 id 的旧连接被顶替
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(logger.WithClient(r.Context(), clientID), "websocket upgrade failed", zap.Error(err))
		return
	}

	h := NewHandle(clientID, s.opts.SendBuffer, conn)
	s.reg.Register(clientID, h)
	wsmetrics.OnOpen()

	ctx := logger.WithClient(s.ctx, clientID)
	s.wg.Add(2)
	safe.GoCtx(ctx, "ws.writePump", func(ctx context.Context) {
		defer s.wg.Done()
		s.writePump(ctx, conn, h)
	})
	safe.GoCtx(ctx, "ws.readPump", func(ctx context.Context) {
		defer s.wg.Done()
		s.readPump(ctx, conn, h)
	})
}

// Wait 等所有 pump 退出（Registry.Close 之后调用）
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, h *Handle) {
	reason := "error"
	defer func() {
		s.reg.Release(h)
		_ = conn.Close()
		wsmetrics.OnClose(reason)
	}()

	conn.SetReadLimit(s.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	// pong 只证明 TCP 还活着，不算应用层活跃
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	limiter := ratelimit.NewLimiter(s.opts.FrameRPS, s.opts.FrameBurst)

	for {
		select {
		case <-ctx.Done():
			reason = "shutdown"
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			reason = readCloseReason(err, h)
			if reason == "error" {
				logger.Warn(ctx, "read error", zap.Error(err))
			} else {
				logger.Debug(ctx, "read loop done", zap.String("reason", reason), zap.Error(err))
			}
			return
		}

		// 已被顶替：剩下的帧直接丢弃
		select {
		case <-h.Done():
			reason = "server_closed"
			return
		default:
		}

		var out Outbound
		if !limiter.Allow() {
			wsmetrics.FrameErrorsTotal.WithLabelValues("ratelimit").Inc()
			metrics.RateLimitBlockTotal.WithLabelValues("ws_frame", "/ws/:client_id").Inc()
			out = ErrorFrame{Reason: rateLimitedReason}
		} else {
			out = s.disp.DispatchFrom(ctx, h, raw)
		}

		payload, err := Encode(out)
		if err != nil {
			logger.Error(ctx, "encode reply failed", zap.Error(err))
			continue
		}
		if err := h.Reply(payload); err != nil {
			reason = "server_closed"
			return
		}
	}
}

func readCloseReason(err error, h *Handle) string {
	if h.State() != StateOpen {
		// 被 Kick 或被顶替，transport 是我们自己关的
		return "server_closed"
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return "client"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "pong_timeout"
	}
	return "error"
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, h *Handle) {
	defer func() {
		s.reg.Release(h)
		_ = conn.Close()
	}()

	// 错开 ping，避免大量连接同一时刻发 ping
	if s.opts.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.opts.PingJitter))))
		select {
		case <-t.C:
		case <-h.Done():
			t.Stop()
			s.writeClose(conn)
			return
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	batch := make([][]byte, 0, s.opts.MaxBatch)
	for {
		select {
		case payload := <-h.Outbound():
			batch = append(batch[:0], payload)
		drain:
			for len(batch) < s.opts.MaxBatch {
				select {
				case p := <-h.Outbound():
					batch = append(batch, p)
				default:
					break drain
				}
			}
			if err := s.writeBatch(conn, batch); err != nil {
				logger.Debug(ctx, "write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				logger.Debug(ctx, "ping failed", zap.Error(err))
				return
			}

		case <-h.Done():
			s.writeClose(conn)
			return

		case <-ctx.Done():
			return
		}
	}
}

// writeBatch 每条 payload 单独一帧，客户端按帧解析 JSON
func (s *Server) writeBatch(conn *websocket.Conn, batch [][]byte) error {
	start := time.Now()
	bytes := 0
	_ = conn.SetWriteDeadline(start.Add(s.opts.WriteWait))

	var err error
	n := 0
	for _, p := range batch {
		if err = conn.WriteMessage(websocket.TextMessage, p); err != nil {
			break
		}
		n++
		bytes += len(p)
	}
	wsmetrics.ObserveWrite(n, bytes, time.Since(start), err)
	return err
}

func (s *Server) writeClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait))
}
