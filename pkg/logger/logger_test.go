package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// capture 把全局 Log 劫持到内存 buffer
func capture(t *testing.T, lvl zapcore.LevelEnabler) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	Log = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buffer), lvl))
	t.Cleanup(func() { Log = nil })
	return buffer
}

func TestLogger_Info_WithRequestAndClient(t *testing.T) {
	buffer := capture(t, zap.InfoLevel)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	ctx = WithClient(ctx, "c1")
	Info(ctx, "subscribed", zap.String("topic", "chat:room1"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "subscribed", entry["msg"])
	assert.Equal(t, "chat:room1", entry["topic"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "c1", entry["client_id"])
}

func TestLogger_Error_NoContextFields(t *testing.T) {
	buffer := capture(t, zap.InfoLevel)

	Error(context.Background(), "persist failed", zap.String("db", "mysql"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))

	_, hasRID := entry["request_id"]
	_, hasCID := entry["client_id"]
	assert.False(t, hasRID)
	assert.False(t, hasCID)
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_NilLogIsSafe(t *testing.T) {
	Log = nil
	assert.NotPanics(t, func() {
		Warn(nil, "no logger installed")
	})
}

func TestSetLevel_InvalidFallsBackToInfo(t *testing.T) {
	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, level.Level())
	SetLevel("nonsense")
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}
