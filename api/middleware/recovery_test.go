package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecoveryStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{
			name: "handler without panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"items":[]}`))
			},
			status: http.StatusOK,
		},
		{
			name:    "string panic",
			handler: func(w http.ResponseWriter, r *http.Request) { panic("view not loaded") },
			status:  http.StatusInternalServerError,
		},
		{
			name:    "error panic",
			handler: func(w http.ResponseWriter, r *http.Request) { panic(errors.New("nil record")) },
			status:  http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Recovery(zap.NewNop())(tt.handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestRecoveryDefaultBody(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got, want := w.Body.String(), `{"error":"internal server error"}`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}

	entries := logs.FilterMessage("panic recovered").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d panics, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/api/v1/stats" {
		t.Errorf("path field = %v", fields["path"])
	}
	if _, ok := fields["stack"]; !ok {
		t.Error("stack field missing")
	}
}

func TestRecoveryWithWriter(t *testing.T) {
	var recovered interface{}
	write := func(w http.ResponseWriter, r *http.Request, err interface{}) {
		recovered = err
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	handler := RecoveryWithWriter(zap.NewNop(), write)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("store closed")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if recovered != "store closed" {
		t.Errorf("recovered = %v", recovered)
	}
}
