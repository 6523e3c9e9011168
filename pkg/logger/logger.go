// Package logger is the process-wide zap logger. Printf style helpers take a context and
// prefix the request trace id; structured helpers take zap fields.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"devicefarm/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

// ctxSugar skips the extra logf frame
var ctxSugar *zap.SugaredLogger

const (
	defaultTraceID = "0"
	timeLayout     = "2006-01-02 15:04:05.000"
)

func init() {
	defaultConfig := zap.NewDevelopmentConfig()
	defaultConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	defaultConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	defaultLogger, _ := defaultConfig.Build(zap.AddCallerSkip(1))
	setLogger(defaultLogger)
}

func setLogger(l *zap.Logger) {
	Log = l
	ctxSugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Init initializes logger from the global configuration
func Init() error {
	return InitWith(config.GlobalConfig.Logger)
}

// InitWith initializes logger from cfg. Unknown levels fall back to info.
func InitWith(cfg config.LoggerConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	out, err := outputFor(cfg)
	if err != nil {
		return err
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), out, zap.NewAtomicLevelAt(level))
	setLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

// NewWriterLogger replaces the global logger with one writing to w, for tests
func NewWriterLogger(w io.Writer, level zapcore.Level) {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), level)
	setLogger(zap.New(core, zap.AddCallerSkip(1)))
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// outputFor resolves console, file or both
func outputFor(cfg config.LoggerConfig) (zapcore.WriteSyncer, error) {
	console := zapcore.AddSync(os.Stdout)
	switch cfg.Output {
	case "file", "both":
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Output == "file" {
			return zapcore.AddSync(file), nil
		}
		return zapcore.NewMultiWriteSyncer(console, zapcore.AddSync(file)), nil
	default:
		return console, nil
	}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("logger file path is required for file output")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

func withTrace(fields []zap.Field) []zap.Field {
	return append([]zap.Field{zap.String("trace_id", defaultTraceID)}, fields...)
}

// Debug level
func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, withTrace(fields)...)
}

// Info level
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, withTrace(fields)...)
}

// Warn level
func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, withTrace(fields)...)
}

// Error level
func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, withTrace(fields)...)
}

type traceKey struct{}

// WithTraceID returns a context carrying the request trace id
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id stored in ctx, or the default id
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return defaultTraceID
	}
	if id, ok := ctx.Value(traceKey{}).(string); ok && id != "" {
		return id
	}
	return defaultTraceID
}

func logf(ctx context.Context, level zapcore.Level, format string, args []interface{}) {
	msg := TraceID(ctx) + "\t" + fmt.Sprintf(format, args...)
	switch level {
	case zapcore.DebugLevel:
		ctxSugar.Debug(msg)
	case zapcore.WarnLevel:
		ctxSugar.Warn(msg)
	case zapcore.ErrorLevel:
		ctxSugar.Error(msg)
	case zapcore.FatalLevel:
		ctxSugar.Fatal(msg)
	default:
		ctxSugar.Info(msg)
	}
}

func DebugCtx(ctx context.Context, format string, args ...interface{}) {
	if !Log.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	logf(ctx, zapcore.DebugLevel, format, args)
}

func InfoCtx(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, zapcore.InfoLevel, format, args)
}

func WarnCtx(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, zapcore.WarnLevel, format, args)
}

func ErrorCtx(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, zapcore.ErrorLevel, format, args)
}

func FatalCtx(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, zapcore.FatalLevel, format, args)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Log.Sync()
}
