package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct{ err error }

func (c *stubChecker) HealthCheck(ctx context.Context) error { return c.err }

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health response failed: %v", err)
	}
	return resp
}

func TestHealth_AlwaysOK(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeHealth(t, rec)
	if resp.Status != "healthy" || resp.Checks["runtime"] != "ok" {
		t.Errorf("response = %+v", resp)
	}
}

func TestReady_AllChecksPass(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:    &stubChecker{},
		RedisChecker: &stubChecker{},
	})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeHealth(t, rec)
	if resp.Checks["database"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Errorf("checks = %+v", resp.Checks)
	}
}

func TestReady_DatabaseDown(t *testing.T) {
	h := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:    &stubChecker{err: errors.New("connection refused")},
		RedisChecker: &stubChecker{},
	})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decodeHealth(t, rec)
	if resp.Status != "unhealthy" || resp.Checks["database"] != "error" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Checks["redis"] != "ok" {
		t.Errorf("healthy dependency misreported: %+v", resp.Checks)
	}
}

func TestReady_NilCheckersSkipped(t *testing.T) {
	// In-memory deployments have no backing stores to probe.
	h := NewHealthHandlers(HealthHandlersConfig{})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
