package crud

import (
	"net/http"

	"github.com/pitabwire/crudadmin/internal/export"
)

// Kind tells the transport how to write a Response.
type Kind int

const (
	// KindRender is a view descriptor: a template name plus its parameters.
	KindRender Kind = iota
	// KindRedirect sends the client to Location.
	KindRedirect
	// KindJSON is a JSON envelope for XML-HTTP callers.
	KindJSON
	// KindStream is an export download.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindRender:
		return "render"
	case KindRedirect:
		return "redirect"
	case KindJSON:
		return "json"
	case KindStream:
		return "stream"
	}
	return "unknown"
}

// Response is the outcome of an action.
type Response struct {
	Kind     Kind
	Status   int
	Template string
	Params   map[string]any
	Location string
	Body     any
	Download *export.Download
}

// Render returns a view descriptor response.
func Render(template string, params map[string]any) *Response {
	return &Response{Kind: KindRender, Status: http.StatusOK, Template: template, Params: params}
}

// Redirect returns a redirect to location.
func Redirect(location string) *Response {
	return &Response{Kind: KindRedirect, Status: http.StatusFound, Location: location}
}

// JSON returns a JSON envelope.
func JSON(status int, body any) *Response {
	return &Response{Kind: KindJSON, Status: status, Body: body}
}

// Stream returns an export download.
func Stream(d *export.Download) *Response {
	return &Response{Kind: KindStream, Status: http.StatusOK, Download: d}
}

// Result values of the JSON envelopes.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// SuccessEnvelope answers an XML-HTTP create or edit that persisted.
type SuccessEnvelope struct {
	Result     string `json:"result"`
	ObjectID   string `json:"objectId"`
	ObjectName string `json:"objectName"`
}

// ErrorEnvelope answers an XML-HTTP submission that failed validation.
type ErrorEnvelope struct {
	Result string   `json:"result"`
	Errors []string `json:"errors"`
}

// ResultEnvelope answers an XML-HTTP delete.
type ResultEnvelope struct {
	Result string `json:"result"`
}
