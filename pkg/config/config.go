package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"pushgate.com/pkg/logger"
)

// Loader 描述一次配置加载
type Loader struct {
	// 约定：config/{Service}.yaml 或 ./{Service}.yaml
	Service string
	// 环境变量前缀，例如 PUSHGATE_HTTP_ADDR 覆盖 http.addr；为空时用 Service 大写
	EnvPrefix string
	// 读文件前先写入的默认值
	Defaults map[string]any
	// 额外的搜索目录（测试用）
	Paths []string
	// 热更新成功后回调
	OnChange func()
}

// Load 读取配置到 out；配置文件不存在时只用默认值 + 环境变量
func (l Loader) Load(out interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(l.Service)
	v.SetConfigType("yaml")
	for _, p := range l.Paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	prefix := l.EnvPrefix
	if prefix == "" {
		prefix = l.Service
	}
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(prefix, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range l.Defaults {
		v.SetDefault(k, val)
	}

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	if fileFound {
		logger.Info(context.Background(), "config loaded", zap.String("service", l.Service), zap.String("file", v.ConfigFileUsed()))
	} else {
		logger.Info(context.Background(), "config file not found, using defaults and env", zap.String("service", l.Service))
	}
	return v, nil
}

// LoadAndWatch 读取配置并监听文件变更，热更新到 out
// mu 非空时 reload 期间持有写锁，读方用 RLock 保护
func (l Loader) LoadAndWatch(out interface{}, mu *sync.RWMutex) (*viper.Viper, error) {
	v, err := l.Load(out)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return v, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(context.Background(), "config file changed", zap.String("service", l.Service), zap.String("file", e.Name))
		if mu != nil {
			mu.Lock()
		}
		err := v.Unmarshal(out)
		if mu != nil {
			mu.Unlock()
		}
		if err != nil {
			logger.Error(context.Background(), "reload config error", zap.String("service", l.Service), zap.Error(err))
			return
		}
		if l.OnChange != nil {
			l.OnChange()
		}
		logger.Info(context.Background(), "config reloaded OK", zap.String("service", l.Service))
	})
	v.WatchConfig()

	return v, nil
}
