package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("resp = %+v", resp)
	}
}

func readiness(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady_adminsLoaded(t *testing.T) {
	code, resp := readiness(t, ReadinessChecks{AdminsLoaded: func() int { return 3 }})
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if got := resp.Checks["admins"].Count; got != 3 {
		t.Errorf("admins count = %d, want 3", got)
	}
	if _, ok := resp.Checks["object_store"]; ok {
		t.Error("nil optional checks should not be reported")
	}
}

func TestHandleReady_nilAdminsFuncIsNotReady(t *testing.T) {
	code, resp := readiness(t, ReadinessChecks{})
	if code != http.StatusServiceUnavailable || resp.Status != "not_ready" {
		t.Errorf("readiness = %d %q, want 503 not_ready", code, resp.Status)
	}
}

func TestHandleReady_noAdmins(t *testing.T) {
	code, resp := readiness(t, ReadinessChecks{AdminsLoaded: func() int { return 0 }})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["admins"].Error == "" {
		t.Error("admins check should carry an error message")
	}
}

type mockHealthChecker struct {
	err   error
	delay time.Duration
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func TestHandleReady_optionalChecks(t *testing.T) {
	code, resp := readiness(t, ReadinessChecks{
		AdminsLoaded: func() int { return 1 },
		ObjectStore:  &mockHealthChecker{},
		SessionStore: &mockHealthChecker{err: errors.New("redis: connection refused")},
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["object_store"].Status != "ok" {
		t.Errorf("object_store = %q, want ok", resp.Checks["object_store"].Status)
	}
	if got := resp.Checks["session_store"]; got.Status != "error" || got.Error != "redis: connection refused" {
		t.Errorf("session_store = %+v", got)
	}
}

func TestRunCheck_timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	result := runCheck(ctx, &mockHealthChecker{delay: time.Second})
	if result.Status != "error" {
		t.Errorf("status = %q, want error", result.Status)
	}
}
