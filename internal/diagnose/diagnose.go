// Package diagnose turns low-level network and upstream errors into short
// actionable messages for logs and the doctor command.
package diagnose

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Describe maps an error to a one-line hint. Unrecognized errors come back
// as their own message.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out; the upstream may be slow or unreachable"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused; is the service running and the socket path correct?"
	case errors.Is(err, syscall.ENOENT):
		return "socket not found; start the host or check the configured socket path"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "DNS lookup failed for " + dnsErr.Name + "; check network and upstream_base_url"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "TLS certificate verification failed; check system clock and CA bundle"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "network timeout; the upstream may be slow or unreachable"
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "authentication"):
		return "authentication failed; check ANTHROPIC_API_KEY or the OAuth token"
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return "rate limited by the upstream; retry later or reduce request volume"
	case strings.Contains(lower, "529") || strings.Contains(lower, "overloaded"):
		return "upstream overloaded; retry with backoff"
	}
	return msg
}
