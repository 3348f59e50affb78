package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// New builds the process logger for the given environment. When a
// CloudWatch writer is provided, JSON log lines are tee'd into it.
func New(env string, cloudWatchWriter io.Writer) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cloudWatchWriter == nil {
		log, err := config.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		return log, nil
	}

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(config.EncoderConfig),
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(config.Level.Level()),
	)

	// CloudWatch always receives JSON so log insights can parse fields
	jsonConfig := config.EncoderConfig
	jsonConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	cwCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(jsonConfig),
		zapcore.AddSync(cloudWatchWriter),
		zap.NewAtomicLevelAt(config.Level.Level()),
	)

	return zap.New(zapcore.NewTee(consoleCore, cwCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// WithRequestID stores a request ID on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID extracts the request ID, or "unknown".
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// For returns log enriched with the request ID carried by ctx.
func For(ctx context.Context, log *zap.Logger) *zap.Logger {
	return log.With(zap.String("request_id", RequestID(ctx)))
}
