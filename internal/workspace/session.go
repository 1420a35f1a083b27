package workspace

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Session IDs come in two shapes:
//
//	UUID:  canonical lowercase 8-4-4-4-12
//	Tuple: >=3 colon-separated segments of [A-Za-z0-9_.-]+
//
// A session ID maps deterministically onto a workspace directory: UUIDs map
// flat, tuples map to nested directories.

var (
	uuidRe    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	segmentRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// ValidSessionID reports whether id is an acceptable session identifier.
func ValidSessionID(id string) bool {
	if uuidRe.MatchString(id) {
		return true
	}
	segs := strings.Split(id, ":")
	if len(segs) < 3 {
		return false
	}
	for _, s := range segs {
		if !segmentRe.MatchString(s) {
			return false
		}
		// dot segments would change the directory mapping
		if s == "." || s == ".." {
			return false
		}
	}
	return true
}

// SessionDir returns the relative directory for a session ID.
// The caller joins it under a tier root. Invalid IDs return "".
func SessionDir(id string) string {
	if !ValidSessionID(id) {
		return ""
	}
	if uuidRe.MatchString(id) {
		return id
	}
	return filepath.Join(strings.Split(id, ":")...)
}
