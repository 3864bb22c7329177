package httpd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rentbot/internal/observability/metrics"
	logx "rentbot/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9090", true},
		{"localhost:9090", true},
		{"[::1]:9090", true},
		{":9090", false},
		{"0.0.0.0:9090", false},
		{"10.0.0.5:9090", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAuthAndRoutes(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.ReminderTick()
	s := New(Config{}, m.Handler(), nil, logx.Nop())
	h := s.Handler(Config{Token: "s3cret", Pprof: true})

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d, want 200", rec.Code)
	}
	rec := get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: code = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "rentbot_reminder_ticks_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
	if rec := get(t, h, "/debug/pprof/", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("pprof index: code = %d, want 200", rec.Code)
	}

	noPprof := s.Handler(Config{})
	if rec := get(t, noPprof, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: code = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, map[string]HealthFunc{
		"storage": func(context.Context) error { return errors.New("database is closed") },
	}, logx.Nop())
	rec := get(t, s.Handler(Config{}), "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "storage: database is closed") {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
