package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	gwConfig "pushgate.com/internal/gateway/config"
	"pushgate.com/internal/gateway/handler"
	ghttp "pushgate.com/internal/gateway/http"
	"pushgate.com/internal/gateway/http/router"
	"pushgate.com/internal/gateway/ingest"
	"pushgate.com/internal/gateway/store"
	"pushgate.com/internal/gateway/ws"
	vipConfig "pushgate.com/pkg/config"
	"pushgate.com/pkg/logger"
	"pushgate.com/pkg/metrics"
	"pushgate.com/pkg/orm"
	"pushgate.com/pkg/ratelimit"
	"pushgate.com/pkg/trace"
	"pushgate.com/pkg/xredis"
)

const (
	shutdownTimeout = 5 * time.Second
	sampleInterval  = 15 * time.Second
)

type App struct {
	mu  sync.RWMutex
	cfg gwConfig.GatewayConfig

	reg    *ws.Registry
	bc     *ws.Broadcaster
	srv    *ws.Server
	reaper *ws.Reaper

	persister *store.Persister
	broker    ingest.Broker
	limiter   *ratelimit.Store

	closers []func(context.Context) error
	// 连接池指标采样
	samplers []func()
}

// New 读取配置并初始化日志；配置不合法直接返回错误
func New(service string) (*App, error) {
	app := &App{}
	loader := vipConfig.Loader{
		Service:   service,
		EnvPrefix: "PUSHGATE",
		Defaults:  gwConfig.Defaults(),
		OnChange:  app.onConfigChange,
	}
	if _, err := loader.LoadAndWatch(&app.cfg, &app.mu); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := app.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.InitWithFile(app.cfg.Name, app.cfg.Log.Level, app.cfg.Log.File)
	return app, nil
}

// 热更新只生效日志级别，其余参数需要重启
func (app *App) onConfigChange() {
	app.mu.RLock()
	lvl := app.cfg.Log.Level
	app.mu.RUnlock()
	logger.SetLevel(lvl)
	logger.Info(context.Background(), "log level reloaded", zap.String("level", lvl))
}

func (app *App) config() gwConfig.GatewayConfig {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cfg
}

// Run 启动全部组件，阻塞到 ctx 取消或任一组件出错，然后优雅退出
func (app *App) Run(ctx context.Context) error {
	cfg := app.config()

	if err := app.build(ctx, cfg); err != nil {
		app.cleanup()
		return err
	}
	defer app.cleanup()

	httpSrv := ghttp.NewServer(ghttp.Options{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ServiceName:  cfg.Name,
		MetricsPath:  cfg.Metrics.Path,
		Limiter:      app.limiter,
		Routes: router.Deps{
			Message: handler.NewMessage(app.persister, app.bc),
			Stats:   handler.NewStats(app.reg),
			WS:      handler.NewWS(app.srv),
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error { return app.reaper.Run(gctx) })

	if app.broker != nil {
		runner := ingest.NewRunner(app.broker, app.bc, cfg.Ingest.Subjects)
		g.Go(func() error { return runner.Run(gctx) })
	}

	app.limiter.StartJanitor(gctx, time.Minute)

	if len(app.samplers) > 0 {
		g.Go(func() error {
			app.samplePools(gctx)
			return nil
		})
	}

	// 退出：先停 http 接入，再断开所有 websocket，等 pump 退出
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		app.reg.Close()
		app.srv.Wait()
		logger.Info(context.Background(), "gateway stopped")
		return err
	})

	return g.Wait()
}

func (app *App) build(ctx context.Context, cfg gwConfig.GatewayConfig) error {
	shutdown, err := trace.InitTrace(ctx, cfg.Name, cfg.Trace.Host)
	if err != nil {
		return fmt.Errorf("init trace: %w", err)
	}
	app.closers = append(app.closers, shutdown)

	app.reg = ws.NewRegistry()
	app.bc = ws.NewBroadcaster(app.reg)
	app.srv = ws.NewServer(ctx, app.reg, ws.NewDispatcher(app.reg), ws.Options{
		SendBuffer: cfg.WS.SendBuffer,
		ReadLimit:  cfg.WS.ReadLimit,
		WriteWait:  cfg.WS.WriteWait,
		PongWait:   cfg.WS.PongWait,
		PingPeriod: cfg.WS.PingPeriod,
		PingJitter: 100 * time.Millisecond,
		FrameRPS:   cfg.WS.FrameRPS,
		FrameBurst: cfg.WS.FrameBurst,
	})
	if app.reaper, err = ws.NewReaper(app.reg, cfg.Reaper.Timeout, cfg.Reaper.Interval); err != nil {
		return err
	}

	limit := rate.Inf
	if cfg.RateLimit.RPS > 0 {
		limit = rate.Limit(cfg.RateLimit.RPS)
	}
	app.limiter = ratelimit.NewStore(limit, cfg.RateLimit.Burst, cfg.RateLimit.TTL)

	if app.persister, err = app.buildPersister(ctx, cfg); err != nil {
		return err
	}

	if cfg.Ingest.Driver == gwConfig.DriverNats {
		b, err := ingest.NewNatsBroker(cfg.Ingest.URL)
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.Ingest.URL, err)
		}
		app.broker = b
		app.closers = append(app.closers, func(context.Context) error { return b.Close() })
	}
	return nil
}

func (app *App) buildPersister(ctx context.Context, cfg gwConfig.GatewayConfig) (*store.Persister, error) {
	var (
		st  store.Store
		seq store.Sequencer
	)

	switch cfg.Store.Driver {
	case gwConfig.DriverMySQL:
		db, err := orm.NewMySQL(&cfg.Store.MySQL)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return sqlDB.Close() })
		app.samplers = append(app.samplers, func() { metrics.ObserveDBPool(sqlDB.Stats()) })

		gs := store.NewGormStore(db)
		if err := gs.Migrate(ctx); err != nil {
			return nil, err
		}
		st = gs
		if cfg.Sequencer.Driver == gwConfig.DriverMySQL {
			seq = store.NewMaxSequencer(db)
		}
	default:
		st = store.NewMemStore()
	}

	switch cfg.Sequencer.Driver {
	case gwConfig.DriverRedis:
		rdb, err := xredis.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return rdb.Close() })
		app.samplers = append(app.samplers, func() { metrics.ObserveRedisPool(rdb.PoolStats()) })
		seq = store.NewRedisSequencer(rdb, cfg.Sequencer.Prefix, ratelimit.NewManager(ratelimit.Rule{}))
	case gwConfig.DriverMemory:
		seq = store.NewMemSequencer()
	}

	logger.Info(ctx, "message store ready",
		zap.String("store", cfg.Store.Driver), zap.String("sequencer", cfg.Sequencer.Driver))
	return store.NewPersister(st, seq), nil
}

func (app *App) samplePools(ctx context.Context) {
	t := time.NewTicker(sampleInterval)
	defer t.Stop()
	for {
		for _, s := range app.samplers {
			s()
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// cleanup 逆序关闭外部资源，最后刷日志
func (app *App) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			logger.Warn(ctx, "close resource failed", zap.Error(err))
		}
	}
	app.closers = nil
	logger.Sync()
}
