package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	if err := (&RequestContext{SubjectID: "user-1"}).Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
	if err := (&RequestContext{Roles: []string{"blog_admin"}}).Validate(); err == nil {
		t.Error("Validate() without SubjectID should fail")
	}
}

func TestRequestContext_DisplayName(t *testing.T) {
	if got := (&RequestContext{SubjectID: "u-1", Username: "alice"}).DisplayName(); got != "alice" {
		t.Errorf("DisplayName() = %q, want alice", got)
	}
	if got := (&RequestContext{SubjectID: "u-1"}).DisplayName(); got != "u-1" {
		t.Errorf("DisplayName() = %q, want u-1", got)
	}
}

func TestRequestContext_Identifies(t *testing.T) {
	rc := &RequestContext{SubjectID: "u-1", Username: "alice", Roles: []string{"blog_editor"}}

	tests := []struct {
		kind, identity string
		want           bool
	}{
		{IdentityUser, "alice", true},
		{IdentityUser, "u-1", false},
		{IdentityRole, "blog_editor", true},
		{IdentityRole, "blog_admin", false},
		{IdentityRole, "", false},
		{"group", "alice", false},
	}
	for _, tt := range tests {
		if got := rc.Identifies(tt.kind, tt.identity); got != tt.want {
			t.Errorf("Identifies(%s, %q) = %v, want %v", tt.kind, tt.identity, got, tt.want)
		}
	}

	var anonymous *RequestContext
	if anonymous.Identifies(IdentityUser, "alice") {
		t.Error("nil context should identify nobody")
	}
}

func TestWithRequestContext_and_RequestContextFrom(t *testing.T) {
	rctx := &RequestContext{SubjectID: "user-1"}
	ctx := WithRequestContext(context.Background(), rctx)
	if got := RequestContextFrom(ctx); got != rctx {
		t.Errorf("RequestContextFrom() = %v, want %v", got, rctx)
	}
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom(empty context) = %v, want nil", got)
	}
}
