package router

import (
	"github.com/gin-gonic/gin"
	"pushgate.com/internal/gateway/handler"
)

type Deps struct {
	Message *handler.Message
	Stats   *handler.Stats
	WS      *handler.WS
}

func Health(r *gin.Engine) {
	r.GET("/healthz", handler.Health)
}

func WS(r *gin.Engine, d Deps) {
	r.GET("/ws/:client_id", d.WS.Serve)
}

func Messages(api *gin.RouterGroup, d Deps) {
	messages := api.Group("/messages")
	{
		messages.POST("", d.Message.Create)
		messages.GET("", d.Message.List)
	}
}

func Stats(api *gin.RouterGroup, d Deps) {
	stats := api.Group("/stats")
	{
		stats.GET("", d.Stats.Overview)
		stats.GET("/clients/:client_id", d.Stats.Client)
	}
}
