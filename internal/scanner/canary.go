package scanner

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// CanaryPrefix precedes the 32 hex characters of entropy in every canary.
const CanaryPrefix = "CANARY-"

// CanaryToken mints a fresh high-entropy canary token of the form
// CANARY-<32 hex chars>.
func CanaryToken() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic("scanner: crypto/rand unavailable: " + err.Error())
	}
	return CanaryPrefix + hex.EncodeToString(buf[:])
}

// CheckCanary reports whether output contains the canary token verbatim.
// An empty token never matches.
func CheckCanary(output, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(output, token)
}
