package logger

import (
	"context"
	"time"

	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger. It is a no-op logger until Initialize is called.
var Log = zap.NewNop()

// Initialize sets up the global logger with the given level and encoding ("json" or "console").
func Initialize(level, encoding string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}
	if encoding != "console" {
		encoding = "json"
	}

	utcTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	config := zap.Config{
		Level:    zap.NewAtomicLevelAt(zapLevel),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     utcTimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		return err
	}

	Log = logger
	return nil
}

// WithLogger attaches a scoped logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context logger (or the global one) enriched with the request ID.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}

	base := Log
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		base = l
	}

	if requestID, err := correlation.RequestIDFromContext(ctx); err == nil {
		return base.With(zap.String("request_id", requestID))
	}
	return base
}

// FromContextOr returns the logger from the context or fallback if none is attached.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return Log
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

type contextKey int

const (
	loggerKey contextKey = iota
)
