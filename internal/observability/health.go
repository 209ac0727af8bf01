package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Set with -ldflags "-X github.com/pitabwire/crudadmin/internal/observability.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the body of /ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is one readiness probe. Count is only set by the admins probe.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Count     int    `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by stores that can ping their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists what /ready probes. The service is ready once at
// least one admin is registered and every configured store answers.
type ReadinessChecks struct {
	AdminsLoaded func() int

	// Nil stores are skipped.
	ObjectStore  HealthChecker
	SessionStore HealthChecker
}

const (
	checkTimeout = 2 * time.Second

	statusOK    = "ok"
	statusError = "error"
)

// HandleHealth serves the liveness probe.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, HealthResponse{Status: statusOK, Version: Version, Commit: Commit})
	}
}

// HandleReady serves the readiness probe. Store checks run concurrently, each
// bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := map[string]CheckResult{"admins": adminsCheck(checks.AdminsLoaded)}

		stores := []struct {
			name    string
			checker HealthChecker
		}{
			{"object_store", checks.ObjectStore},
			{"session_store", checks.SessionStore},
		}
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, s := range stores {
			if s.checker == nil {
				continue
			}
			wg.Go(func() {
				res := runCheck(r.Context(), s.checker)
				mu.Lock()
				results[s.name] = res
				mu.Unlock()
			})
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		code := http.StatusOK
		for _, res := range results {
			if res.Status != statusOK {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeProbe(w, code, resp)
	}
}

func adminsCheck(loaded func() int) CheckResult {
	n := 0
	if loaded != nil {
		n = loaded()
	}
	if n == 0 {
		return CheckResult{Status: statusError, Error: "no admins registered"}
	}
	return CheckResult{Status: statusOK, Count: n}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: statusOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = statusError
		res.Error = err.Error()
	}
	return res
}

func writeProbe(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
