package logger

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"devicefarm/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLogs(t *testing.T, level zapcore.Level) *bytes.Buffer {
	t.Helper()
	prev := Log
	t.Cleanup(func() { setLogger(prev) })
	var buf bytes.Buffer
	NewWriterLogger(&buf, level)
	return &buf
}

func TestCtxHelpersPrefixTraceID(t *testing.T) {
	buf := captureLogs(t, zapcore.DebugLevel)

	ctx := WithTraceID(context.Background(), "trace-123")
	InfoCtx(ctx, "device %s allocated", "emulator-5554")
	WarnCtx(context.Background(), "no trace")

	out := buf.String()
	assert.Contains(t, out, "trace-123\tdevice emulator-5554 allocated")
	assert.Contains(t, out, "0\tno trace")
}

func TestDebugCtxRespectsLevel(t *testing.T) {
	buf := captureLogs(t, zapcore.InfoLevel)

	DebugCtx(context.Background(), "hidden %d", 1)
	Debug("hidden too", zap.Int("n", 2))

	assert.Empty(t, buf.String())
}

func TestStructuredHelpersAddTraceField(t *testing.T) {
	buf := captureLogs(t, zapcore.InfoLevel)

	Info("device released", zap.String("udid", "d1"))

	assert.Contains(t, buf.String(), `"trace_id": "0"`)
	assert.Contains(t, buf.String(), `"udid": "d1"`)
}

func TestTraceID(t *testing.T) {
	assert.Equal(t, "0", TraceID(context.Background()))
	assert.Equal(t, "0", TraceID(WithTraceID(context.Background(), "")))
	assert.Equal(t, "abc", TraceID(WithTraceID(context.Background(), "abc")))
}

func TestInitWithFileOutput(t *testing.T) {
	prev := Log
	t.Cleanup(func() { setLogger(prev) })

	path := filepath.Join(t.TempDir(), "logs", "farm.log")
	require.NoError(t, InitWith(config.LoggerConfig{Level: "debug", Output: "file", File: config.LoggerFileConfig{Path: path}}))
	assert.FileExists(t, path)

	err := InitWith(config.LoggerConfig{Output: "file"})
	assert.Error(t, err)
}
