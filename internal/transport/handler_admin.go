package transport

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/admin"
	"github.com/pitabwire/crudadmin/internal/crud"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/session"
	"github.com/pitabwire/crudadmin/model"
)

// maxFormBytes bounds the body of form submissions.
const maxFormBytes = 10 << 20

// AdminLister lists the admins shown on the dashboard. *admin.Pool
// implements it.
type AdminLister interface {
	Codes() []string
	Resolve(code string) (*admin.Admin, error)
}

// handleAction adapts one crud action to HTTP. Routes nested under a parent
// object carry childCode (and childId for object routes); the outer code and
// id then name the parent.
func handleAction(d *crud.Dispatcher, out responseWriter, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := buildRequest(w, r)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}

		resp, err := d.Dispatch(r.Context(), action, req)
		if err != nil {
			if StatusForError(err) >= http.StatusInternalServerError {
				observability.RequestLogger(r.Context(), out.logger).Error("admin action failed",
					zap.String("admin_code", req.Code),
					zap.String("action", action),
					zap.Error(err))
			}
			writeError(r.Context(), w, err)
			return
		}
		out.write(w, r, req.Code, resp)
	}
}

func buildRequest(w http.ResponseWriter, r *http.Request) (*crud.Request, error) {
	req := &crud.Request{
		Method:    r.Method,
		Code:      chi.URLParam(r, "code"),
		ID:        chi.URLParam(r, "id"),
		Revision:  chi.URLParam(r, "revision"),
		Base:      chi.URLParam(r, "base"),
		Compare:   chi.URLParam(r, "compare"),
		Query:     r.URL.Query(),
		Header:    r.Header,
		SessionID: SessionIDFrom(r.Context()),
	}
	if child := chi.URLParam(r, "childCode"); child != "" {
		req.ParentCode, req.ParentID = req.Code, req.ID
		req.Code, req.ID = child, chi.URLParam(r, "childId")
	}

	form, err := parseForm(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.NewBadRequestError("Request body too large")
		}
		return nil, model.NewBadRequestError("Malformed form body")
	}
	req.Form = form
	return req, nil
}

// parseForm reads the submitted body. net/http leaves DELETE bodies unparsed,
// so those are decoded here.
func parseForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Body == nil {
		return url.Values{}, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	ct := r.Header.Get("Content-Type")
	switch {
	case r.Method == http.MethodDelete && strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return url.ParseQuery(string(body))
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return nil, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
	}
	if r.PostForm == nil {
		return url.Values{}, nil
	}
	return r.PostForm, nil
}

type flashesResponse struct {
	Flashes []model.FlashMessage `json:"flashes"`
}

// handleFlashes drains the flash messages of the caller's session.
func handleFlashes(flashes session.FlashBag) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if flashes == nil {
			WriteJSON(w, http.StatusOK, flashesResponse{Flashes: []model.FlashMessage{}})
			return
		}
		msgs, err := flashes.Drain(r.Context(), SessionIDFrom(r.Context()))
		if err != nil {
			writeError(r.Context(), w, model.NewInternalError())
			return
		}
		if msgs == nil {
			msgs = []model.FlashMessage{}
		}
		WriteJSON(w, http.StatusOK, flashesResponse{Flashes: msgs})
	}
}

type dashboardEntry struct {
	Code    string `json:"code"`
	Label   string `json:"label"`
	ListURL string `json:"list_url"`
}

// handleDashboard lists the top-level admins whose list the caller may see.
func handleDashboard(admins AdminLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := []dashboardEntry{}
		for _, code := range admins.Codes() {
			a, err := admins.Resolve(code)
			if err != nil || a.IsChild() || !a.HasRoute(model.RouteList) {
				continue
			}
			granted, err := a.IsGranted(r.Context(), crud.ActionList, nil)
			if err != nil {
				writeError(r.Context(), w, err)
				return
			}
			if !granted {
				continue
			}
			entries = append(entries, dashboardEntry{
				Code:    a.Code(),
				Label:   a.Label(),
				ListURL: a.GenerateURL(model.RouteList, "", nil),
			})
		}
		WriteJSON(w, http.StatusOK, renderBody{
			Template: "dashboard",
			Params:   map[string]any{"admins": entries},
		})
	}
}
