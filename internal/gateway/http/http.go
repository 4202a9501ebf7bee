package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"pushgate.com/internal/gateway/http/router"
	"pushgate.com/pkg/middleware"
	"pushgate.com/pkg/ratelimit"
)

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	MetricsPath  string
	Limiter      *ratelimit.Store
	Routes       router.Deps
}

// NewEngine gin 引擎：监控、trace、request id、cors、recover
func NewEngine(o Options) *gin.Engine {
	r := gin.New()

	p := ginprom.NewPrometheus("pushgate")
	if o.MetricsPath != "" {
		p.MetricsPath = o.MetricsPath
	}
	// 按路由模板聚合，避免 /ws/:client_id 把 label 撑爆
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if fp := c.FullPath(); fp != "" {
			return fp
		}
		return "unknown"
	}
	p.Use(r)

	r.Use(
		otelgin.Middleware(o.ServiceName),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)

	router.Health(r)
	router.WS(r, o.Routes)

	api := r.Group("/api")
	if o.Limiter != nil {
		api.Use(middleware.RateLimit(o.Limiter))
	}
	router.Messages(api, o.Routes)
	router.Stats(api, o.Routes)
	return r
}

func NewServer(o Options) *http.Server {
	// websocket 升级后 gorilla 会清掉这里的 deadline，读写超时由 pump 自己管
	return &http.Server{
		Addr:           o.Addr,
		Handler:        NewEngine(o),
		ReadTimeout:    o.ReadTimeout,
		WriteTimeout:   o.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
