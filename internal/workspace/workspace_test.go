package workspace

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", false}, // uppercase UUID rejected
		{"agent:default:cli:direct:user-1", true},
		{"a:b:c", true},
		{"a:b", false},                // too few segments
		{"a:b:", false},               // empty segment
		{"a:b:c d", false},            // space
		{"a:..:c", false},             // dot segment
		{"a:b:c/..", false},           // slash
		{"msg-001", false},            // bare token is neither shape
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidSessionID(tt.id); got != tt.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSessionDirMapping(t *testing.T) {
	uuid := "550e8400-e29b-41d4-a716-446655440000"
	if got := SessionDir(uuid); got != uuid {
		t.Errorf("UUID should map flat: %q", got)
	}
	got := SessionDir("agent:default:cli")
	want := filepath.Join("agent", "default", "cli")
	if got != want {
		t.Errorf("tuple mapping = %q, want %q", got, want)
	}
	if SessionDir("bad") != "" {
		t.Error("invalid id should map to empty")
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()

	good, err := Resolve(root, "sub/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasPrefix(good, root) {
		t.Errorf("resolved outside root: %q", good)
	}

	escapes := []string{
		"../outside.txt",
		"sub/../../outside.txt",
		"/etc/passwd",
		"..",
		"",
		".",
	}
	for _, rel := range escapes {
		if _, err := Resolve(root, rel); !errors.Is(err, ErrPathEscape) {
			t.Errorf("Resolve(%q) = %v, want ErrPathEscape", rel, err)
		}
	}

	// Interior .. that stays inside is fine.
	if _, err := Resolve(root, "a/b/../c.txt"); err != nil {
		t.Errorf("interior traversal inside root should resolve: %v", err)
	}
}

func TestTierRoots(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	shared, err := m.TierRoot(TierShared, "default", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(shared, filepath.Join("agents", "default", "agent")) {
		t.Errorf("shared tier path: %q", shared)
	}

	user, err := m.TierRoot(TierUser, "default", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(user, filepath.Join("users", "u1", "workspace")) {
		t.Errorf("user tier path: %q", user)
	}

	scratch, err := m.TierRoot(TierScratch, "", "", "agent:default:cli")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(scratch, "scratch") {
		t.Errorf("scratch tier path: %q", scratch)
	}

	if _, err := m.TierRoot(TierScratch, "", "", "not-a-session"); err == nil {
		t.Error("invalid session id should fail")
	}
	if _, err := m.TierRoot(TierUser, "default", "../evil", ""); err == nil {
		t.Error("traversal in user id should fail")
	}
}
