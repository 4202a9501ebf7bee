package config

import (
	"errors"
	"fmt"
	"time"

	"pushgate.com/pkg/orm"
	"pushgate.com/pkg/xredis"
)

// 总配置
type GatewayConfig struct {
	Name      string          `mapstructure:"name" yaml:"name"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	WS        WSConfig        `mapstructure:"ws" yaml:"ws"`
	Reaper    ReaperConfig    `mapstructure:"reaper" yaml:"reaper"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Sequencer SequencerConfig `mapstructure:"sequencer" yaml:"sequencer"`
	Redis     xredis.Config   `mapstructure:"redis" yaml:"redis"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Trace     TraceConfig     `mapstructure:"trace" yaml:"trace"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
}

// websocket 传输参数
type WSConfig struct {
	SendBuffer int           `mapstructure:"sendBuffer" yaml:"sendBuffer"`
	ReadLimit  int64         `mapstructure:"readLimit" yaml:"readLimit"`
	WriteWait  time.Duration `mapstructure:"writeWait" yaml:"writeWait"`
	PongWait   time.Duration `mapstructure:"pongWait" yaml:"pongWait"`
	PingPeriod time.Duration `mapstructure:"pingPeriod" yaml:"pingPeriod"`
	FrameRPS   float64       `mapstructure:"frameRps" yaml:"frameRps"`
	FrameBurst int           `mapstructure:"frameBurst" yaml:"frameBurst"`
}

// 空闲连接回收
type ReaperConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// HTTP 按 ip + 路由限流
type RateLimitConfig struct {
	RPS   float64       `mapstructure:"rps" yaml:"rps"`
	Burst int           `mapstructure:"burst" yaml:"burst"`
	TTL   time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type StoreConfig struct {
	Driver string     `mapstructure:"driver" yaml:"driver"` // memory | mysql
	MySQL  orm.Config `mapstructure:"mysql" yaml:"mysql"`
}

type SequencerConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory | mysql | redis
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

type IngestConfig struct {
	Driver   string   `mapstructure:"driver" yaml:"driver"` // none | nats
	URL      string   `mapstructure:"url" yaml:"url"`
	Subjects []string `mapstructure:"subjects" yaml:"subjects"`
}

type TraceConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
}

type MetricsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
	DriverNone   = "none"
	DriverNats   = "nats"
)

// Defaults 读文件前写入 viper，环境变量能覆盖的 key 也以这里为准
func Defaults() map[string]any {
	return map[string]any{
		"name":              "pushgate",
		"log.level":         "info",
		"log.file":          "",
		"http.addr":         ":8000",
		"http.readTimeout":  10 * time.Second,
		"http.writeTimeout": 10 * time.Second,

		"ws.sendBuffer": 256,
		"ws.readLimit":  64 << 10,
		"ws.writeWait":  5 * time.Second,
		"ws.pongWait":   60 * time.Second,
		"ws.pingPeriod": 30 * time.Second,
		"ws.frameRps":   20.0,
		"ws.frameBurst": 40,

		"reaper.timeout":  2 * time.Minute,
		"reaper.interval": 30 * time.Second,

		"ratelimit.rps":   50.0,
		"ratelimit.burst": 100,
		"ratelimit.ttl":   10 * time.Minute,

		"store.driver":            DriverMemory,
		"store.mysql.dsn":         "",
		"store.mysql.maxIdle":     10,
		"store.mysql.maxOpen":     50,
		"store.mysql.maxLifetime": 3600,
		"store.mysql.logSQL":      false,

		"sequencer.driver": DriverMemory,
		"sequencer.prefix": "pushgate:seq",

		"redis.addr":     "127.0.0.1:6379",
		"redis.password": "",
		"redis.db":       0,
		"redis.poolSize": 100,

		"ingest.driver":   DriverNone,
		"ingest.url":      "nats://127.0.0.1:4222",
		"ingest.subjects": []string{"pushgate.messages"},

		"trace.host":   "",
		"metrics.path": "/metrics",
	}
}

// Validate 启动前检查；不合法直接拒绝启动
func (c *GatewayConfig) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Reaper.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("reaper.timeout must be positive, got %s", c.Reaper.Timeout))
	}
	if c.Reaper.Interval <= 0 {
		errs = append(errs, fmt.Errorf("reaper.interval must be positive, got %s", c.Reaper.Interval))
	}
	if c.Reaper.Timeout > 0 && c.Reaper.Interval >= c.Reaper.Timeout {
		errs = append(errs, fmt.Errorf("reaper.interval (%s) must be smaller than reaper.timeout (%s)",
			c.Reaper.Interval, c.Reaper.Timeout))
	}
	if c.WS.PongWait > 0 && c.WS.PingPeriod >= c.WS.PongWait {
		errs = append(errs, fmt.Errorf("ws.pingPeriod (%s) must be smaller than ws.pongWait (%s)",
			c.WS.PingPeriod, c.WS.PongWait))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Store.MySQL.DSN == "" {
			errs = append(errs, errors.New("store.mysql.dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Sequencer.Driver {
	case DriverMemory, DriverRedis:
	case DriverMySQL:
		if c.Store.Driver != DriverMySQL {
			errs = append(errs, errors.New("sequencer.driver mysql requires store.driver mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sequencer.driver %q", c.Sequencer.Driver))
	}

	switch c.Ingest.Driver {
	case DriverNone, "":
	case DriverNats:
		if c.Ingest.URL == "" || len(c.Ingest.Subjects) == 0 {
			errs = append(errs, errors.New("ingest.url and ingest.subjects are required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ingest.driver %q", c.Ingest.Driver))
	}
	return errors.Join(errs...)
}
