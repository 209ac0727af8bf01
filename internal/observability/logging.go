package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/crudadmin/internal/config"
	"github.com/pitabwire/crudadmin/model"
)

type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Log level usage conventions:
//   - error: infrastructure failures, unhandled panics, propagated model manager errors
//   - warn:  client errors (4xx), swallowed model manager errors, lock conflicts
//   - info:  request start/end, persisted create/update/delete, batch dispatch
//   - debug: submitted form payloads (redacted), cache operations
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with RequestContext fields.
// If no logger is in the context, the fallback is used.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.SessionID != "" {
		fields = append(fields, zap.String("session_id", rctx.SessionID))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// defaultSensitiveFields are redacted from submitted payloads before they are
// logged. Matching is case-insensitive on the last path segment, so
// "post[password]" is redacted too.
var defaultSensitiveFields = map[string]bool{
	"password":           true,
	"plainpassword":      true,
	"secret":             true,
	"token":              true,
	"_sonata_csrf_token": true,
	"_token":             true,
	"api_key":            true,
	"authorization":      true,
}

// RedactPayload returns a copy of a submitted payload with sensitive fields
// replaced by "[REDACTED]". Intended for debug-level logging only.
func RedactPayload(payload map[string][]string, sensitiveFields []string) map[string][]string {
	if payload == nil {
		return nil
	}

	redactSet := make(map[string]bool, len(defaultSensitiveFields)+len(sensitiveFields))
	for k := range defaultSensitiveFields {
		redactSet[k] = true
	}
	for _, f := range sensitiveFields {
		redactSet[strings.ToLower(f)] = true
	}

	result := make(map[string][]string, len(payload))
	for k, v := range payload {
		if redactSet[leafName(k)] {
			result[k] = []string{"[REDACTED]"}
			continue
		}
		result[k] = append([]string(nil), v...)
	}
	return result
}

// leafName returns the innermost bracketed segment of a form key, lowercased.
func leafName(key string) string {
	key = strings.TrimSuffix(key, "[]")
	if i := strings.LastIndex(key, "["); i >= 0 && strings.HasSuffix(key, "]") {
		key = key[i+1 : len(key)-1]
	}
	return strings.ToLower(key)
}
