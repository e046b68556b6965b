package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen == "" {
		t.Fatal("expected a request ID in handler context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated request ID %q is not a UUID: %v", seen, err)
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q = %q, want %q", RequestIDHeader, got, seen)
	}
}

func TestRequestID_EchoesCallerSuppliedID(t *testing.T) {
	const callerID = "docsys-7f3a1c"

	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set(RequestIDHeader, callerID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != callerID {
		t.Errorf("handler saw request ID %q, want %q", seen, callerID)
	}
	if got := rr.Header().Get(RequestIDHeader); got != callerID {
		t.Errorf("response header %q = %q, want %q", RequestIDHeader, got, callerID)
	}
}

func TestRequestID_ReplacesOversizedID(t *testing.T) {
	oversized := strings.Repeat("x", maxRequestIDLength+1)

	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set(RequestIDHeader, oversized)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen == oversized {
		t.Error("oversized caller ID should be replaced, not propagated")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("replacement request ID %q is not a UUID: %v", seen, err)
	}
}

func TestGetRequestID_EmptyWithoutMiddleware(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID on bare context = %q, want empty", got)
	}
}
