package handler

import (
	"github.com/gin-gonic/gin"
	"pushgate.com/internal/gateway/ws"
	"pushgate.com/pkg/common"
	"pushgate.com/pkg/xerr"
)

type Stats struct {
	reg *ws.Registry
}

func NewStats(reg *ws.Registry) *Stats {
	return &Stats{reg: reg}
}

type topicDTO struct {
	TopicType string `json:"topic_type"`
	TopicID   string `json:"topic_id"`
}

// Overview GET /api/stats
func (h *Stats) Overview(c *gin.Context) {
	common.Success(c, gin.H{
		"connections":   h.reg.ConnectionCount(),
		"subscriptions": h.reg.SubscriptionCount(),
		"topics":        h.reg.TopicCount(),
	})
}

// Client GET /api/stats/clients/:client_id
func (h *Stats) Client(c *gin.Context) {
	id := c.Param("client_id")
	conn, ok := h.reg.Lookup(id)
	if !ok {
		common.FailFromErr(c, xerr.New(xerr.ClientNotConnected, "client "+id+" is not connected"))
		return
	}

	keys := h.reg.ClientSubscriptions(id)
	topics := make([]topicDTO, 0, len(keys))
	for _, k := range keys {
		topics = append(topics, topicDTO{TopicType: k.Type, TopicID: k.ID})
	}
	common.Success(c, gin.H{
		"client_id":     id,
		"state":         conn.State().String(),
		"idle_seconds":  h.reg.IdleFor(conn, h.reg.Now()).Seconds(),
		"dropped":       conn.Dropped(),
		"subscriptions": topics,
	})
}
