package diagnose

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, "timed out"},
		{"refused", fmt.Errorf("dial unix /tmp/x.sock: %w", syscall.ECONNREFUSED), "connection refused"},
		{"missing socket", fmt.Errorf("dial unix /tmp/x.sock: %w", syscall.ENOENT), "socket not found"},
		{"dns", &net.DNSError{Name: "api.example.com", Err: "no such host"}, "DNS lookup failed"},
		{"auth", errors.New("upstream returned 401 unauthorized"), "authentication failed"},
		{"rate limit", errors.New("upstream returned 429 too many requests"), "rate limited"},
		{"overloaded", errors.New("upstream returned 529 overloaded"), "overloaded"},
		{"passthrough", errors.New("something odd"), "something odd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("got %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("got %q, want containing %q", got, tt.want)
			}
		})
	}
}
