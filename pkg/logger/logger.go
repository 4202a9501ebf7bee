package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	// RequestIDKey 由 http 中间件写入，和 pkg/common.CtxKeyRequestID 保持一致
	RequestIDKey = "request_id"
	clientIDKey  = ctxKey("client_id")
)

// 全局 Logger 实例
var Log *zap.Logger

// 可动态调整的日志级别（配置热更新时用）
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Init 初始化日志组件，只写控制台
func Init(serviceName string, lvl string) {
	InitWithFile(serviceName, lvl, "")
}

// InitWithFile 初始化日志组件
// logFile 为空时只输出到 stdout（容器化标准），否则同时追加写文件
func InitWithFile(serviceName string, lvl string, logFile string) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writeSyncers = append(writeSyncers, zapcore.AddSync(file))
			}
			// 打开失败只写控制台，不中断启动
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		level,
	)

	// AddCallerSkip(1)：跳过本包的封装函数，行号指向调用方
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("service", serviceName))
}

// Nop 安装一个丢弃所有输出的 logger，测试里用
func Nop() {
	Log = zap.NewNop()
}

// SetLevel 调整日志级别，非法值退回 info
func SetLevel(lvl string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		l = zapcore.InfoLevel
	}
	level.SetLevel(l)
}

// WithClient 把 client id 放进 ctx，后续日志自动带上 client_id 字段
func WithClient(ctx context.Context, clientID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientIDKey, clientID)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	logger().Info(msg, withCtx(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	logger().Error(msg, withCtx(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	logger().Warn(msg, withCtx(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	logger().Debug(msg, withCtx(ctx, fields)...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	logger().Fatal(msg, withCtx(ctx, fields)...)
}

func logger() *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log
}

// withCtx 从 ctx 里取 request_id / client_id 追加到 fields
func withCtx(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if rid, ok := ctx.Value(RequestIDKey).(string); ok && rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if cid, ok := ctx.Value(clientIDKey).(string); ok && cid != "" {
		fields = append(fields, zap.String("client_id", cid))
	}
	return fields
}

// Sync 刷新缓冲区 (main 里 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
