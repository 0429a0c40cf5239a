package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS{AllowOrigin: "https://example.org"}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/classify", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if called {
		t.Error("preflight should not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.org" {
		t.Errorf("origin = %q", got)
	}
}

func TestAccessLogAndRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}), AccessLog(zap.New(core)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)

	if seen != "abc-123" || rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("request id not propagated: ctx %q header %q", seen, rec.Header().Get(RequestIDHeader))
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if status := entries[0].ContextMap()["status"]; status != int64(http.StatusTeapot) {
		t.Errorf("logged status = %v", status)
	}
}

func TestAccessLogGeneratesID(t *testing.T) {
	h := AccessLog(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header().Get(RequestIDHeader)) != 36 {
		t.Errorf("expected a uuid, got %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recover(zap.NewNop()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
