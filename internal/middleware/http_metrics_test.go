package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/verify", "/v1/verify"},
		{"/v1/verify/incremental", "/v1/verify/incremental"},
		{"/v1/runs", "/v1/runs"},
		{"/v1/admin/secrets", "/v1/admin/secrets"},
		{"/v1/admin/secrets/default", "/v1/admin/secrets/default"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/v1/chains/user:alice/entries", "/v1/chains/{chain_id}/entries"},
		{"/v1/chains/service:lab-importer/entries", "/v1/chains/{chain_id}/entries"},
		{"/v1/chains/user:alice", "/v1/chains/{chain_id}"},
		{"/unknown/route", "/unknown/route"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	m.ObserveHTTPRequest("GET", "/v1/runs", "200", 0.05, 0, 128)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	expected := map[string]bool{
		MetricHTTPRequestDuration:   false,
		MetricHTTPRequestsTotal:     false,
		MetricHTTPRequestSizeBytes:  false,
		MetricHTTPResponseSizeBytes: false,
	}
	for _, family := range families {
		if _, ok := expected[family.GetName()]; ok {
			expected[family.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not found in gathered metrics", name)
		}
	}
}

func TestHTTPMetrics_RecordsRequests(t *testing.T) {
	m := NewMetrics()
	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chains/user:alice/entries", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := requestsTotal(t, m, "POST", "/v1/chains/{chain_id}/entries", "201"); got != 1 {
		t.Errorf("requests total = %v, want 1 under the normalized path", got)
	}
}

func TestHTTPMetrics_SkipsProbes(t *testing.T) {
	m := NewMetrics()
	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got := requestsTotal(t, m, "GET", path, "200"); got != 0 {
			t.Errorf("probe %s was recorded in HTTP metrics", path)
		}
	}
}

func TestHTTPMetrics_CapturesErrorStatus(t *testing.T) {
	m := NewMetrics()
	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/verify", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := requestsTotal(t, m, "POST", "/v1/verify", "503"); got != 1 {
		t.Errorf("requests total = %v, want the 503 recorded", got)
	}
}

func requestsTotal(t *testing.T, m *Metrics, method, path, status string) float64 {
	t.Helper()
	metric, err := m.httpRequestsTotal.GetMetricWithLabelValues(method, path, status)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() failed: %v", err)
	}
	var sample dto.Metric
	if err := metric.Write(&sample); err != nil {
		t.Fatalf("writing metric failed: %v", err)
	}
	return sample.GetCounter().GetValue()
}
