// Package integration provides a reusable test harness for end-to-end
// integration testing of the crudadmin server. It starts a full HTTP server
// with YAML definitions, a static policy, in-memory stores, and a test JWT
// issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/internal/admin"
	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/internal/capability"
	"github.com/pitabwire/crudadmin/internal/config"
	"github.com/pitabwire/crudadmin/internal/crud"
	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/definition"
	"github.com/pitabwire/crudadmin/internal/export"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/internal/session"
	"github.com/pitabwire/crudadmin/internal/store"
	"github.com/pitabwire/crudadmin/internal/transport"
	"github.com/pitabwire/crudadmin/model"
)

// TestHarness encapsulates a fully wired crudadmin instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry  *definition.Registry
	Pool      *admin.Pool
	Objects   *store.MemoryModelManager
	Revisions *audit.MemoryStore
	ACLs      *acl.MemoryStore
	Metrics   *observability.Metrics

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	policyFile     string
	handlerTimeout time.Duration
	debug          bool
}

// WithDefinitions sets the definition directories to load.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithDebug makes the dispatcher surface model manager failures.
func WithDebug() HarnessOption {
	return func(c *harnessConfig) {
		c.debug = true
	}
}

// NewTestHarness creates and starts a full crudadmin test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{handlerTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(hc)
	}

	testdata := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdata, "definitions")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdata, "policies.yaml")
	}

	h := &TestHarness{t: t}

	// Definitions.
	filters := datagrid.DefaultRegistry()
	exporter := export.NewExporter()
	files, err := definition.NewLoader().LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator(filters, exporter.Formats()).Validate(files); len(verrs) > 0 {
		t.Fatalf("validate definitions: %v", verrs)
	}
	h.Registry = definition.NewRegistry(files)

	// Stores.
	h.Objects = store.NewMemoryModelManager(filters)
	h.Revisions = audit.NewMemoryStore()
	h.ACLs = acl.NewMemoryStore()
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())

	// Authorization. No capability caching in tests.
	policy, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	resolver := capability.NewResolver(policy, 0, 0, h.Metrics)

	h.Pool, err = admin.NewPool(admin.Dependencies{
		ModelManager: store.NewInstrumented(h.Objects, h.Metrics),
		Security:     capability.NewSecurityHandler(resolver, h.ACLs),
		Filters:      filters,
		Recorder:     audit.NewRecorder(h.Revisions),
		PerPage:      25,
		Metrics:      h.Metrics,
	}, h.Registry.AllAdmins())
	if err != nil {
		t.Fatalf("build admin pool: %v", err)
	}

	audits := audit.NewManager()
	for _, def := range h.Registry.AllAdmins() {
		if def.Audited {
			audits.Register(def.Class, h.Revisions)
		}
	}

	csrf, err := security.NewCSRFManager([]byte("integration-secret"), time.Hour)
	if err != nil {
		t.Fatalf("csrf manager: %v", err)
	}
	flashes := session.NewMemoryFlashBag(time.Hour)

	dispatcher := crud.New(h.Pool,
		crud.WithAuditManager(audits),
		crud.WithCSRF(csrf),
		crud.WithExporter(exporter),
		crud.WithACL(acl.NewManipulator(h.ACLs, policy)),
		crud.WithFlashBag(flashes),
		crud.WithObserver(crud.NewLogObserver(zap.NewNop())),
		crud.WithMetrics(h.Metrics),
		crud.WithDebug(hc.debug),
	)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Mode:         config.IdentityModeJWT,
		Issuer:       h.issuer.Issuer(),
		Audience:     h.issuer.Audience(),
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
		ClaimPaths: map[string]string{
			"subject_id": "sub",
			"username":   "preferred_username",
			"email":      "email",
			"roles":      "roles",
		},
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       zap.NewNop(),
		Dispatcher:   dispatcher,
		Admins:       h.Pool,
		Flashes:      flashes,
		Metrics:      h.Metrics,
		Readiness:    observability.ReadinessChecks{AdminsLoaded: h.Pool.Len, ObjectStore: h.Objects},
		Authenticate: transport.Authenticator(h.cfg.Identity, zap.NewNop()),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	h.client = &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// Seed stores an object directly, bypassing the admin.
func (h *TestHarness) Seed(class string, fields map[string]any) *model.Object {
	h.t.Helper()
	obj := model.NewObject(class)
	for k, v := range fields {
		obj.Set(k, v)
	}
	if err := h.Objects.Create(context.Background(), obj); err != nil {
		h.t.Fatalf("seed %s: %v", class, err)
	}
	return obj
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POSTForm performs an authenticated urlencoded POST.
func (h *TestHarness) POSTForm(path string, form url.Values, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, form, token, nil)
}

// POSTFormWithHeaders performs an authenticated urlencoded POST with
// additional headers.
func (h *TestHarness) POSTFormWithHeaders(path string, form url.Values, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, form, token, headers)
}

// DELETEForm performs an authenticated urlencoded DELETE.
func (h *TestHarness) DELETEForm(path string, form url.Values, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, form, token, nil)
}

func (h *TestHarness) doRequest(method, path string, form url.Values, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// Page is the JSON view descriptor returned for rendered admin pages.
type Page struct {
	Template string         `json:"template"`
	Params   map[string]any `json:"params"`
}

// Render performs a GET and decodes the page, failing unless it returns 200.
func (h *TestHarness) Render(path, token string) Page {
	h.t.Helper()
	resp := h.GET(path, token)
	var page Page
	h.AssertJSON(h.t, resp, http.StatusOK, &page)
	return page
}

// CSRFToken renders path and returns the csrf_token it carries.
func (h *TestHarness) CSRFToken(path, token string) string {
	h.t.Helper()
	page := h.Render(path, token)
	tok, _ := page.Params["csrf_token"].(string)
	if tok == "" {
		h.t.Fatalf("page %s carries no csrf_token", path)
	}
	return tok
}

// Flashes drains the flash messages of the harness session.
func (h *TestHarness) Flashes(token string) []model.FlashMessage {
	h.t.Helper()
	var body struct {
		Flashes []model.FlashMessage `json:"flashes"`
	}
	h.AssertJSON(h.t, h.GET("/admin/flashes", token), http.StatusOK, &body)
	return body.Flashes
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertRedirect checks for a 302 and returns its Location.
func (h *TestHarness) AssertRedirect(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 302\nbody: %s", resp.StatusCode, string(body))
	}
	return resp.Header.Get("Location")
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// AdminClaims returns TestClaims for a blog_admin user.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Username:  "alice",
		Email:     "alice@example.com",
		Roles:     []string{"blog_admin"},
	}
}

// EditorClaims returns TestClaims for a blog_editor user.
func EditorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-editor",
		Username:  "erin",
		Email:     "erin@example.com",
		Roles:     []string{"blog_editor"},
	}
}

// ViewerClaims returns TestClaims for a blog_viewer user.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		Username:  "victor",
		Email:     "victor@example.com",
		Roles:     []string{"blog_viewer"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
