package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-1",
		Username:  "alice",
		Roles:     roles,
	}
}

// --- StaticPolicyEvaluator tests ---

func TestStaticPolicyEvaluator_ResolveCapabilities(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	caps, err := e.ResolveCapabilities(testRctx("blog_viewer"))
	if err != nil {
		t.Fatalf("ResolveCapabilities() error = %v", err)
	}
	if !caps.Has("blog.post:list") {
		t.Error("blog_viewer should have blog.post:list")
	}
	if caps.Has("blog.post:edit") {
		t.Error("blog_viewer should not have blog.post:edit")
	}
}

func TestStaticPolicyEvaluator_MultipleRolesAndWildcards(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("blog_viewer", "blog_editor"))

	if !caps.HasAll("blog.post:export", "blog.post:edit", "blog.comment:delete") {
		t.Errorf("combined roles = %v", caps)
	}

	admin, _ := e.ResolveCapabilities(testRctx("admin"))
	if !admin.Has("blog.tag:batchDelete") {
		t.Error("admin with blog.* should match any blog admin action")
	}
}

func TestStaticPolicyEvaluator_UnknownRole(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("nonexistent"))
	if len(caps) != 0 {
		t.Errorf("unknown role should return empty capabilities, got %v", caps)
	}
}

func TestStaticPolicyEvaluator_Roles(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	got := e.Roles()
	want := []string{"admin", "blog_editor", "blog_viewer"}
	if len(got) != len(want) {
		t.Fatalf("Roles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Roles()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStaticPolicyEvaluator_Sync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("roles:\n  r: [\"a:list\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := NewStaticPolicyEvaluator(path)
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("roles: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := e.Sync(); err == nil {
		t.Fatal("Sync() on invalid yaml should fail")
	}
	caps, _ := e.ResolveCapabilities(testRctx("r"))
	if !caps.Has("a:list") {
		t.Error("failed Sync should keep the previous policy")
	}
}

func TestNewStaticPolicyEvaluator_missingFile(t *testing.T) {
	if _, err := NewStaticPolicyEvaluator("testdata/missing.yaml"); err == nil {
		t.Error("expected error for missing policy file")
	}
}

// --- Resolver tests ---

type countingEvaluator struct {
	calls int
	err   error
}

func (c *countingEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	caps := model.CapabilitySet{}
	for _, r := range rctx.Roles {
		caps[r+":list"] = true
	}
	return caps, nil
}

func (c *countingEvaluator) Sync() error { return nil }

func TestResolver_caches(t *testing.T) {
	eval := &countingEvaluator{}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	r := NewResolver(eval, time.Minute, 0, metrics)

	for range 3 {
		if _, err := r.Resolve(testRctx("a", "b")); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	_, _ = r.Resolve(testRctx("b", "a"))

	if eval.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1 (role order must not matter)", eval.calls)
	}
	if got := testutil.ToFloat64(metrics.CapabilityCacheHitsTotal); got != 3 {
		t.Errorf("cache hits = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.CapabilityCacheMissesTotal); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
}

func TestResolver_expiry(t *testing.T) {
	eval := &countingEvaluator{}
	r := NewResolver(eval, time.Minute, 0, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	_, _ = r.Resolve(testRctx("a"))
	clock = clock.Add(2 * time.Minute)
	_, _ = r.Resolve(testRctx("a"))

	if eval.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2 after expiry", eval.calls)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	eval := &countingEvaluator{}
	r := NewResolver(eval, time.Minute, 0, nil)

	_, _ = r.Resolve(testRctx("a"))
	other := &model.RequestContext{SubjectID: "user-2", Roles: []string{"a"}}
	_, _ = r.Resolve(other)

	r.Invalidate("user-1")
	if r.Len() != 1 {
		t.Errorf("Len() = %d after Invalidate, want 1", r.Len())
	}
	r.InvalidateAll()
	if r.Len() != 0 {
		t.Errorf("Len() = %d after InvalidateAll, want 0", r.Len())
	}
}

func TestResolver_maxEntries(t *testing.T) {
	r := NewResolver(&countingEvaluator{}, time.Minute, 2, nil)
	for _, id := range []string{"u1", "u2", "u3"} {
		_, _ = r.Resolve(&model.RequestContext{SubjectID: id})
	}
	if r.Len() > 2 {
		t.Errorf("Len() = %d, want at most 2", r.Len())
	}
}

func TestResolver_error(t *testing.T) {
	boom := errors.New("policy down")
	r := NewResolver(&countingEvaluator{err: boom}, time.Minute, 0, nil)
	if _, err := r.Resolve(testRctx("a")); !errors.Is(err, boom) {
		t.Errorf("Resolve() error = %v, want %v", err, boom)
	}
	if r.Len() != 0 {
		t.Error("failed resolution must not be cached")
	}
}

// --- SecurityHandler tests ---

func TestSecurityHandler_IsGranted(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	store := acl.NewMemoryStore()
	post := &model.Object{ID: "p1", Class: "Post"}
	_ = store.Replace(context.Background(), "Post", "p1", model.IdentityUser, []model.ACLEntry{
		{Identity: "alice", Permissions: []string{model.PermissionDelete}},
	})
	h := NewSecurityHandler(NewResolver(e, time.Minute, 0, nil), store)

	tests := []struct {
		name       string
		rctx       *model.RequestContext
		action     string
		obj        *model.Object
		aclEnabled bool
		want       bool
	}{
		{"role capability", testRctx("blog_editor"), "edit", nil, false, true},
		{"missing capability", testRctx("blog_viewer"), "edit", nil, false, false},
		{"acl entry grants", testRctx("blog_viewer"), "delete", post, true, true},
		{"acl ignored when disabled", testRctx("blog_viewer"), "delete", post, false, false},
		{"acl without object", testRctx("blog_viewer"), "delete", nil, true, false},
		{"acl lacks permission", testRctx("blog_viewer"), "edit", post, true, false},
		{"anonymous", nil, "list", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.IsGranted(context.Background(), tt.rctx, "blog.post", tt.action, tt.obj, tt.aclEnabled)
			if err != nil {
				t.Fatalf("IsGranted() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsGranted() = %v, want %v", got, tt.want)
			}
		})
	}
}
