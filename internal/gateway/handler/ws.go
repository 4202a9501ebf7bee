package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"pushgate.com/internal/gateway/ws"
)

type WS struct {
	srv *ws.Server
}

func NewWS(srv *ws.Server) *WS {
	return &WS{srv: srv}
}

// Serve GET /ws/:client_id，client id 不做校验
func (h *WS) Serve(c *gin.Context) {
	h.srv.ServeWS(c.Writer, c.Request, c.Param("client_id"))
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
