package crud

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Request parameters and submit buttons read by the dispatcher.
const (
	ParamUniqID        = "uniqid"
	ParamSubclass      = "subclass"
	ParamListMode      = "_list_mode"
	ParamTab           = "_tab"
	ParamMethod        = "_method"
	ParamXMLHTTP       = "_xml_http_request"
	ParamFormat        = "format"
	ParamConfirmation  = "confirmation"
	ParamBatchData     = "data"
	ParamBatchAction   = "action"
	ParamBatchIdx      = "idx"
	ParamAllElements   = "all_elements"
	BtnUpdateAndList   = "btn_update_and_list"
	BtnCreateAndList   = "btn_create_and_list"
	BtnCreateAndCreate = "btn_create_and_create"
	BtnPreview         = "btn_preview"
	BtnPreviewApprove  = "btn_preview_approve"
	BtnPreviewDecline  = "btn_preview_decline"
)

// Request is the transport-independent view of one admin request.
type Request struct {
	Method string

	// Code is the admin code; ParentCode and ParentID are set for routes
	// nested under a parent object.
	Code       string
	ParentCode string
	ParentID   string

	// ID is the object id route parameter. Revision names the revision of
	// historyViewRevision; Base and Compare those of historyCompareRevisions.
	ID       string
	Revision string
	Base     string
	Compare  string

	Query     url.Values
	Form      url.Values
	Header    http.Header
	SessionID string
}

// Param returns a request parameter, looking in the query string first and
// then in the submitted body.
func (r *Request) Param(key string) string {
	if v, ok := r.Query[key]; ok && len(v) > 0 {
		return v[0]
	}
	if v, ok := r.Form[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether key was sent at all, even with an empty value.
func (r *Request) Has(key string) bool {
	if _, ok := r.Query[key]; ok {
		return true
	}
	_, ok := r.Form[key]
	return ok
}

// Values merges query and body parameters; body values win.
func (r *Request) Values() url.Values {
	out := make(url.Values, len(r.Query)+len(r.Form))
	for k, v := range r.Query {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range r.Form {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// RestMethod returns the verb the request stands for. A "_method" body
// parameter overrides the transport verb.
func (r *Request) RestMethod() string {
	if m := r.Form.Get(ParamMethod); m != "" {
		return strings.ToUpper(m)
	}
	return strings.ToUpper(r.Method)
}

// IsXMLHTTP reports whether the caller expects a JSON envelope instead of a
// page.
func (r *Request) IsXMLHTTP() bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	v := r.Param(ParamXMLHTTP)
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}

// AcceptsJSON reports whether the Accept header admits application/json. A
// missing header accepts anything.
func (r *Request) AcceptsJSON() bool {
	accept := r.Header.Values("Accept")
	if len(accept) == 0 {
		return true
	}
	for _, line := range accept {
		for part := range strings.SplitSeq(line, ",") {
			mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			if mt == "application/json" || mt == "*/*" {
				return true
			}
		}
	}
	return false
}

// Tab returns the "_tab" body parameter as redirect parameters.
func (r *Request) Tab() url.Values {
	if t := r.Form.Get(ParamTab); t != "" {
		return url.Values{ParamTab: {t}}
	}
	return nil
}
