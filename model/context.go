package model

import (
	"context"
	"errors"
	"slices"
)

// RequestContext is the authenticated user behind an admin request, as seen by
// the security handler, the audit recorder and the ACL page. Treat it as
// read-only once the identity middleware has built it.
type RequestContext struct {
	SubjectID     string
	Username      string
	Email         string
	Roles         []string
	Claims        map[string]any
	SessionID     string
	CorrelationID string
	TraceID       string
	SpanID        string
	Locale        string
}

// Validate rejects identities without a subject.
func (rc *RequestContext) Validate() error {
	if rc.SubjectID == "" {
		return errors.New("request context: subject is required")
	}
	return nil
}

// DisplayName is the user identity of ACL entries and the username written on
// revisions: the username claim, falling back to the subject.
func (rc *RequestContext) DisplayName() string {
	if rc.Username != "" {
		return rc.Username
	}
	return rc.SubjectID
}

// Identifies reports whether the user holds the security identity of the
// given kind (IdentityUser or IdentityRole).
func (rc *RequestContext) Identifies(kind, identity string) bool {
	if rc == nil || identity == "" {
		return false
	}
	switch kind {
	case IdentityUser:
		return rc.DisplayName() == identity
	case IdentityRole:
		return slices.Contains(rc.Roles, identity)
	}
	return false
}

type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the identity stored in ctx, or nil for
// unauthenticated contexts.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
