package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProbeHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		method   string
		wantCode int
		wantBody string
	}{
		{"healthy", HealthzHandler(Fixed(true, "")), http.MethodGet, 200, "ok\n"},
		{"healthy nil probe", HealthzHandler(nil), http.MethodGet, 200, "ok\n"},
		{"unhealthy", HealthzHandler(Fixed(false, "site root unavailable")), http.MethodGet, 503, "site root unavailable"},
		{"ready", ReadyzHandler(Fixed(true, "")), http.MethodGet, 200, "ready\n"},
		{"ready nil probe", ReadyzHandler(nil), http.MethodGet, 200, "ready\n"},
		{"not ready", ReadyzHandler(Fixed(false, "draining")), http.MethodGet, 503, "draining"},
		{"head has no body", ReadyzHandler(nil), http.MethodHead, 200, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(tt.method, "/-/ready", http.NoBody))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody == "" && rec.Body.Len() != 0 {
				t.Fatalf("body = %q, want empty", rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Fatal("health responses must not be cached")
			}
		})
	}
}

func TestProbeHandler_PassesRequestContext(t *testing.T) {
	type key struct{}
	var got any
	p := CheckFunc(func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), key{}, "v"))
	HealthzHandler(p).ServeHTTP(httptest.NewRecorder(), req)

	if got != "v" {
		t.Fatalf("probe saw ctx value %v", got)
	}
}
