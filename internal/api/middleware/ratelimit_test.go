package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Close()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Error("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("expected separate key to have its own bucket")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	defer rl.Close()

	for i := 0; i < 100; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	rl.Allow("a")
	rl.cleanup(time.Now())
	if rl.size() != 1 {
		t.Errorf("expected recent key kept, got %d", rl.size())
	}
	rl.cleanup(time.Now().Add(2 * limiterIdleTTL))
	if rl.size() != 0 {
		t.Errorf("expected idle key removed, got %d", rl.size())
	}
}

func TestRateLimitByIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Close()

	handler := RateLimitByIP(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest("POST", "/api/v1/errors", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.0.0.1"); code != http.StatusCreated {
		t.Errorf("expected 201, got %d", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusCreated {
		t.Errorf("expected 201 for other client, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:80", "198.51.100.7"},
		{"no port", nil, "192.0.2.9", "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
