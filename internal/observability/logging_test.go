package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/crudadmin/internal/config"
	"github.com/pitabwire/crudadmin/model"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level     string
		enabled   zapcore.Level
		disabled  zapcore.Level
		checkDown bool
	}{
		{"info", zapcore.InfoLevel, zapcore.DebugLevel, true},
		{"debug", zapcore.DebugLevel, 0, false},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel, true},
		{"bogus", zapcore.InfoLevel, zapcore.DebugLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%v should be enabled", tt.enabled)
			}
			if tt.checkDown && logger.Core().Enabled(tt.disabled) {
				t.Errorf("%v should NOT be enabled", tt.disabled)
			}
		})
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rctx := &model.RequestContext{
		SubjectID:     "user-42",
		SessionID:     "sess-1",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	}
	ctx := model.WithRequestContext(context.Background(), rctx)

	RequestLogger(ctx, logger).Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	checks := map[string]string{
		"subject_id":     "user-42",
		"session_id":     "sess-1",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "test message",
		"level":          "info",
	}
	for key, want := range checks {
		if got, _ := entry[key].(string); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RequestLogger(context.Background(), logger).Info("no context")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["msg"] != "no context" {
		t.Errorf("msg = %q, want no context", entry["msg"])
	}
	if _, exists := entry["subject_id"]; exists {
		t.Error("subject_id should not be present without RequestContext")
	}
}

func TestRedactPayload(t *testing.T) {
	payload := map[string][]string{
		"post[title]":        {"Hello"},
		"user[password]":     {"secret123"},
		"_sonata_csrf_token": {"abc"},
		"idx[]":              {"1", "2"},
		"user[phone]":        {"555"},
	}

	redacted := RedactPayload(payload, []string{"Phone"})

	if redacted["post[title]"][0] != "Hello" {
		t.Errorf("post[title] = %v, want Hello", redacted["post[title]"])
	}
	if redacted["user[password]"][0] != "[REDACTED]" {
		t.Errorf("user[password] = %v, want [REDACTED]", redacted["user[password]"])
	}
	if redacted["_sonata_csrf_token"][0] != "[REDACTED]" {
		t.Errorf("csrf token = %v, want [REDACTED]", redacted["_sonata_csrf_token"])
	}
	if redacted["user[phone]"][0] != "[REDACTED]" {
		t.Errorf("user[phone] = %v, want [REDACTED]", redacted["user[phone]"])
	}
	if len(redacted["idx[]"]) != 2 {
		t.Errorf("idx[] = %v, want two values", redacted["idx[]"])
	}
	if payload["user[password]"][0] != "secret123" {
		t.Error("original payload was mutated")
	}
	if RedactPayload(nil, nil) != nil {
		t.Error("RedactPayload(nil) should be nil")
	}
}
