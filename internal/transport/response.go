// Package transport contains the HTTP router, the middleware chain and the
// handlers that adapt admin requests to the crud dispatcher.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/crud"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:      http.StatusBadRequest,
	model.ErrUnauthorized:    http.StatusUnauthorized,
	model.ErrForbidden:       http.StatusForbidden,
	model.ErrNotFound:        http.StatusNotFound,
	model.ErrNotAcceptable:   http.StatusNotAcceptable,
	model.ErrValidationError: http.StatusBadRequest,
	model.ErrRateLimited:     http.StatusTooManyRequests,
	model.ErrInternalError:   http.StatusInternalServerError,
	model.ErrModelManager:    http.StatusInternalServerError,
	model.ErrLock:            http.StatusConflict,
	model.ErrConfiguration:   http.StatusInternalServerError,
}

// StatusForError returns the HTTP status of err.
func StatusForError(err error) int {
	ee, ok := asEnvelope(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status := statusForCode[ee.Code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes an ErrorEnvelope as a JSON response with the matching
// HTTP status code. Errors that are not envelopes become a generic 500 so
// that internal messages never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	writeError(context.Background(), w, err)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ee, ok := asEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	out := *ee
	if out.TraceID == "" {
		out.TraceID = observability.TraceIDFromContext(ctx)
	}
	WriteJSON(w, status, errorResponse{Error: &out})
}

func asEnvelope(err error) (*model.ErrorEnvelope, bool) {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// renderBody is the JSON form of a rendered page: the template a frontend
// draws and the parameters it draws it with.
type renderBody struct {
	Template string         `json:"template"`
	Params   map[string]any `json:"params"`
}

// responseWriter turns dispatcher responses into HTTP responses.
type responseWriter struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

func (rw responseWriter) write(w http.ResponseWriter, r *http.Request, adminCode string, resp *crud.Response) {
	switch resp.Kind {
	case crud.KindRender:
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		WriteJSON(w, status, renderBody{Template: resp.Template, Params: resp.Params})
	case crud.KindRedirect:
		http.Redirect(w, r, resp.Location, http.StatusFound)
	case crud.KindJSON:
		WriteJSON(w, resp.Status, resp.Body)
	case crud.KindStream:
		rw.stream(w, r, adminCode, resp)
	default:
		writeError(r.Context(), w, model.NewInternalError())
	}
}

func (rw responseWriter) stream(w http.ResponseWriter, r *http.Request, adminCode string, resp *crud.Response) {
	d := resp.Download
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Filename))
	w.WriteHeader(http.StatusOK)

	if _, err := d.WriteTo(w); err != nil {
		// Headers are gone; the client sees a truncated file.
		observability.RequestLogger(r.Context(), rw.logger).Error("export interrupted",
			zap.String("admin_code", adminCode),
			zap.String("format", d.Format),
			zap.Int("rows", d.Rows()),
			zap.Error(err))
		return
	}
	if rw.metrics != nil {
		rw.metrics.RecordExport(adminCode, d.Format, d.Rows())
	}
}
