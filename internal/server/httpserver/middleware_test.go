package httpserver

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestIDFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		requestID := rec.Header().Get(RequestIDHeader)
		if !strings.HasPrefix(requestID, "req-") || len(requestID) != len("req-")+26 {
			t.Errorf("request ID = %q, want req-<ulid>", requestID)
		}
		if seen != requestID {
			t.Errorf("context request ID = %q, header = %q", seen, requestID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "existing-id-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "existing-id-123" {
			t.Errorf("expected 'existing-id-123', got %s", got)
		}
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); !strings.HasPrefix(got, "req-") {
			t.Errorf("oversized ID kept: %q", got)
		}
	})
}

func TestNetworkACL(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		remote    string
		want      int
	}{
		{"allows all when allowlist is empty", nil, "192.168.1.100:12345", http.StatusOK},
		{"allows matching single IP", []string{"192.168.1.100"}, "192.168.1.100:12345", http.StatusOK},
		{"allows matching CIDR", []string{"10.0.0.0/8"}, "10.1.2.3:12345", http.StatusOK},
		{"denies non-matching IP", []string{"192.168.1.0/24"}, "10.0.0.1:12345", http.StatusForbidden},
		{"supports IPv6", []string{"2001:db8::/32"}, "[2001:db8::1]:12345", http.StatusOK},
		{"skips invalid entries", []string{"bogus", "127.0.0.1"}, "127.0.0.1:5000", http.StatusOK},
		{"denies unparsable peer", []string{"127.0.0.1"}, "pipe", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NetworkACL(&NetworkACLConfig{AllowList: tt.allowList, Logger: discardLogger()})(okHandler())
			if rec := serveFrom(handler, tt.remote); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestNetworkACL_IgnoresForwardedFor(t *testing.T) {
	handler := NetworkACL(&NetworkACLConfig{AllowList: []string{"127.0.0.1"}})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("spoofed X-Forwarded-For accepted: status %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Run("limits requests from same IP", func(t *testing.T) {
		handler := RateLimit(2)(okHandler())

		for i := 0; i < 2; i++ {
			if rec := serveFrom(handler, "10.0.0.99:12345"); rec.Code != http.StatusOK {
				t.Errorf("request %d: expected status 200, got %d", i+1, rec.Code)
			}
		}
		rec := serveFrom(handler, "10.0.0.99:12345")
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "1" {
			t.Error("missing Retry-After")
		}
	})

	t.Run("different IPs have separate limits", func(t *testing.T) {
		handler := RateLimit(1)(okHandler())

		if rec := serveFrom(handler, "192.168.100.1:12345"); rec.Code != http.StatusOK {
			t.Errorf("first IP: expected status 200, got %d", rec.Code)
		}
		if rec := serveFrom(handler, "192.168.100.2:12345"); rec.Code != http.StatusOK {
			t.Errorf("second IP: expected status 200, got %d", rec.Code)
		}
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		handler := RateLimit(10)(okHandler())

		for i := 0; i < 10; i++ {
			serveFrom(handler, "10.0.0.88:12345")
		}
		if rec := serveFrom(handler, "10.0.0.88:12345"); rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", rec.Code)
		}

		time.Sleep(200 * time.Millisecond)

		if rec := serveFrom(handler, "10.0.0.88:12345"); rec.Code != http.StatusOK {
			t.Errorf("after refill: expected status 200, got %d", rec.Code)
		}
	})
}

func TestRecover(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		handler := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("test panic")
		}))

		rec := serveFrom(handler, "127.0.0.1:1")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		if rec.Header().Get("X-Error-Code") != "internal" {
			t.Errorf("X-Error-Code = %q", rec.Header().Get("X-Error-Code"))
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		if rec := serveFrom(Recover(discardLogger())(okHandler()), "127.0.0.1:1"); rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=DEBUG"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusServiceUnavailable, "level=ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			handler := RequestID()(AccessLog(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})))

			serveFrom(handler, "127.0.0.1:1")

			out := buf.String()
			for _, want := range []string{tt.level, "status=" + strconv.Itoa(tt.status), "path=/test", "request_id=req-"} {
				if !strings.Contains(out, want) {
					t.Errorf("log %q missing %q", out, want)
				}
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	w.WriteHeader(http.StatusTeapot)

	if w.statusCode != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("status = %d/%d", w.statusCode, rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := map[string]string{
		"192.168.1.1:8080":  "192.168.1.1",
		"[::1]:8080":        "::1",
		"10.0.0.5":          "10.0.0.5",
		"[2001:db8::1]:443": "2001:db8::1",
	}
	for remote, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := getClientIP(req); got != want {
			t.Errorf("getClientIP(%q) = %q, want %q", remote, got, want)
		}
	}
}
