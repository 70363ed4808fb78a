package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTruncateKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"ak_0123456789abcdef", "ak_012345678"},
		{"ak_short", "ak_short"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := TruncateKey(tc.key); got != tc.want {
			t.Errorf("TruncateKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		email string
		want  string
	}{
		{"buyer@example.com", "bu***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "[redacted]"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := RedactEmail(tc.email); got != tc.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4567"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want first forwarded hop", got)
	}
}

func TestClientIPFallsBackToPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.9:4567"
	if got := ClientIP(req); got != "198.51.100.9" {
		t.Errorf("ClientIP = %q", got)
	}

	req.RemoteAddr = "bad-addr"
	if got := ClientIP(req); got != "bad-addr" {
		t.Errorf("ClientIP fallback = %q", got)
	}
}
