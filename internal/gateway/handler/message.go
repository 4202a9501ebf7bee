package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"pushgate.com/internal/gateway/domain"
	"pushgate.com/internal/gateway/store"
	"pushgate.com/internal/gateway/ws"
	"pushgate.com/pkg/common"
	"pushgate.com/pkg/logger"
	"pushgate.com/pkg/xerr"
)

const HeaderDelivered = "X-Delivered"

type Message struct {
	persister *store.Persister
	bc        *ws.Broadcaster
}

func NewMessage(p *store.Persister, bc *ws.Broadcaster) *Message {
	return &Message{persister: p, bc: bc}
}

// Create POST /api/messages：落库后立刻扇出给在线订阅者
func (h *Message) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromErr(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return
	}

	msg, err := h.persister.Persist(ctx, req)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}

	// 落库已成功，扇出失败只记日志
	res, err := h.bc.PublishMessage(msg)
	if err != nil {
		logger.Error(ctx, "broadcast persisted message failed", zap.Error(err),
			zap.Int64("message_id", msg.MessageID))
	} else {
		logger.Info(ctx, "message published",
			zap.String("topic_type", msg.TopicType),
			zap.String("topic_id", msg.TopicID),
			zap.Int64("message_id", msg.MessageID),
			zap.Int("delivered", res.Delivered),
			zap.Int("dropped", res.Dropped),
		)
	}
	c.Header(HeaderDelivered, strconv.Itoa(res.Delivered))
	common.Success(c, msg)
}

// List GET /api/messages?topic_type=&topic_id=&message_type=&page=&limit=
func (h *Message) List(c *gin.Context) {
	q := store.Query{
		TopicType:   c.Query("topic_type"),
		TopicID:     c.Query("topic_id"),
		MessageType: c.Query("message_type"),
		Page:        queryInt(c, "page"),
		Limit:       queryInt(c, "limit"),
	}
	list, total, err := h.persister.History(c.Request.Context(), q)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, gin.H{
		"list":  list,
		"total": total,
	})
}

// 非法值按 0 处理，交给分页归一化
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
