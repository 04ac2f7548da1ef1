package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/testutil"
)

func TestAnonymousFallback(t *testing.T) {
	ts := newTestServer(t, &testutil.ScriptedInvoker{})

	// No identity header: the session lands on the shared anonymous actor.
	rec := ts.do(t, http.MethodPost, "/api/v1/sessions", `{"title":"anon"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}

	_, total, err := ts.store.List(t.Context(), AnonymousActor, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Errorf("anonymous actor sees %d sessions, want 1", total)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(0.0001, 2)

	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.allow("10.0.0.1") {
		t.Error("third request should exceed the burst")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("other IPs keep their own bucket")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:4444",
			want:       "203.0.113.7",
		},
		{
			name:       "proxy headers ignored without trust",
			remoteAddr: "203.0.113.7:4444",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "trusted x-real-ip",
			remoteAddr: "203.0.113.7:4444",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:       "trusted x-forwarded-for first hop",
			remoteAddr: "203.0.113.7:4444",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.1"},
			trustProxy: true,
			want:       "198.51.100.2",
		},
		{
			name:       "bogus header falls through",
			remoteAddr: "203.0.113.7:4444",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			trustProxy: true,
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
