package crud

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/model"
)

// clientErrorCodes are failures caused by the request rather than the
// server. They are logged at warn.
var clientErrorCodes = map[string]bool{
	model.ErrBadRequest:      true,
	model.ErrUnauthorized:    true,
	model.ErrForbidden:       true,
	model.ErrNotFound:        true,
	model.ErrNotAcceptable:   true,
	model.ErrValidationError: true,
	model.ErrRateLimited:     true,
	model.ErrLock:            true,
}

// LogObserver writes one log entry per dispatched action: info on success,
// warn on client errors, error otherwise. At debug level it also logs the
// submitted form with sensitive fields redacted.
type LogObserver struct {
	logger    *zap.Logger
	sensitive []string
}

// NewLogObserver returns an observer logging to logger. sensitiveFields are
// redacted from logged payloads on top of the built-in ones.
func NewLogObserver(logger *zap.Logger, sensitiveFields ...string) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger, sensitive: sensitiveFields}
}

// OnAction implements Observer.
func (o *LogObserver) OnAction(ctx context.Context, event ActionEvent) {
	logger := observability.RequestLogger(ctx, o.logger).With(
		zap.String("admin_code", event.AdminCode),
		zap.String("action", event.Action),
	)
	if event.ObjectID != "" {
		logger = logger.With(zap.String("object_id", event.ObjectID))
	}

	if hasPayload(event) && logger.Core().Enabled(zapcore.DebugLevel) {
		logger.Debug("action payload",
			zap.String("method", event.Method),
			zap.Any("payload", observability.RedactPayload(event.Form, o.sensitive)),
		)
	}

	fields := []zap.Field{
		zap.String("outcome", event.Outcome),
		zap.Duration("duration", event.Duration),
	}
	switch {
	case event.Err == nil:
		logger.Info("action handled", fields...)
	case isClientError(event.Err):
		logger.Warn("action rejected", append(fields, zap.Error(event.Err))...)
	default:
		logger.Error("action failed", append(fields, zap.Error(event.Err))...)
	}
}

func hasPayload(event ActionEvent) bool {
	if len(event.Form) == 0 {
		return false
	}
	return event.Method != http.MethodGet && event.Method != http.MethodHead
}

func isClientError(err error) bool {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		return false
	}
	return clientErrorCodes[ee.Code]
}
