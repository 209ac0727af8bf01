package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pitabwire/crudadmin/internal/config"
	"github.com/pitabwire/crudadmin/model"
)

// testDeps returns Dependencies with sensible defaults for testing.
func testDeps() Dependencies {
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second
	return Dependencies{Config: cfg}
}

func rejectAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, model.NewUnauthorizedError("rejected"))
	})
}

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_readyWithoutAdmins(t *testing.T) {
	deps := testDeps()
	deps.Readiness.AdminsLoaded = func() int { return 0 }
	r := NewRouter(deps)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNewRouter_publicRoutesBypassAuth(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = rejectAll
	deps.Readiness.AdminsLoaded = func() int { return 3 }
	r := NewRouter(deps)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != 200 {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}

func TestNewRouter_adminRoutesAreRegistered(t *testing.T) {
	// Every admin route passes through authentication; a rejecting
	// authenticator proves the route exists under the /admin subtree.
	deps := testDeps()
	deps.Authenticate = rejectAll
	r := NewRouter(deps)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/admin"},
		{"GET", "/admin/flashes"},
		{"GET", "/admin/blog.post/list"},
		{"GET", "/admin/blog.post/create"},
		{"POST", "/admin/blog.post/create"},
		{"POST", "/admin/blog.post/batch"},
		{"GET", "/admin/blog.post/export"},
		{"GET", "/admin/blog.post/1/edit"},
		{"POST", "/admin/blog.post/1/edit"},
		{"DELETE", "/admin/blog.post/1/delete"},
		{"GET", "/admin/blog.post/1/show"},
		{"GET", "/admin/blog.post/1/history"},
		{"GET", "/admin/blog.post/1/history/3/view"},
		{"GET", "/admin/blog.post/1/history/3/4/compare"},
		{"POST", "/admin/blog.post/1/acl"},
		{"GET", "/admin/blog.post/1/blog.comment/list"},
		{"GET", "/admin/blog.post/1/blog.comment/9/edit"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
			if w.Code != 401 {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestNewRouter_unknownRoute(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ui/navigation", nil))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_adminSetsSessionCookie(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = rejectAll
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin/blog.post/list", nil))

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == deps.Config.Session.CookieName {
			found = true
		}
	}
	if !found {
		t.Error("session cookie should be set before authentication")
	}
}

func TestNewRouter_securityHeadersOnHealth(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("X-Correlation-Id"); got == "" {
		t.Error("X-Correlation-Id should be set on every response")
	}
}
