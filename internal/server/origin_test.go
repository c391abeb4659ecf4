package server

import (
	"net/http/httptest"
	"testing"

	"github.com/Tyrowin/livechat/internal/logging"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", " https://Chat.Example.com ", "not a url", ""}, logging.Discard())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact match", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "HTTPS://CHAT.EXAMPLE.COM", want: true},
		{name: "path ignored", origin: "https://chat.example.com/app", want: true},
		{name: "wrong port", origin: "http://localhost:9090", want: false},
		{name: "wrong scheme", origin: "https://localhost:8080", want: false},
		{name: "garbage", origin: "::::", want: false},
		{name: "null origin", origin: "null", want: false},
		{name: "no origin header", origin: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := policy.check(r); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}

	if len(policy.allowed) != 2 {
		t.Errorf("invalid entries should be dropped, got %v", policy.allowed)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, logging.Discard())
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	if !policy.check(r) {
		t.Error("wildcard should allow every origin")
	}
}
