package log

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

var (
	defaultLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	defaultLogger = newLogger(false)
)

func newLogger(json bool) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), defaultLevel))
}

// Configure sets the level (debug, info, warn, error) and the encoding of the default logger.
// It must be called before any logger is attached to a context.
func Configure(level string, json bool) error {
	var l zapcore.Level
	if err := l.Set(level); err != nil {
		return fmt.Errorf("log.Configure: %w", err)
	}
	defaultLevel.SetLevel(l)
	defaultLogger = newLogger(json)
	return nil
}

// Logger returns the logger attached to the context, or the default logger
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return defaultLogger
}

// WithLogger returns a copy of ctx carrying the given logger
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// With returns a copy of ctx whose logger has the additional field key=value
func With(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, Logger(ctx).With(zap.Any(key, value)))
}

// Fatal logs the message with the default logger, then exits
func Fatal(msg string, fields ...zap.Field) {
	defaultLogger.Fatal(msg, fields...)
}

// Sync flushes the default logger
func Sync() {
	_ = defaultLogger.Sync()
}
