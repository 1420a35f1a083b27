//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"testing"
)

func TestNamespaceCloneFlags(t *testing.T) {
	attr := sysProcAttr(Config{})
	for _, tc := range []struct {
		name string
		flag uintptr
	}{
		{"mount", syscall.CLONE_NEWNS},
		{"pid", syscall.CLONE_NEWPID},
		{"ipc", syscall.CLONE_NEWIPC},
		{"net", syscall.CLONE_NEWNET},
	} {
		if attr.Cloneflags&tc.flag == 0 {
			t.Errorf("%s namespace flag not set", tc.name)
		}
	}
	if attr.Pdeathsig != syscall.SIGKILL {
		t.Errorf("Pdeathsig = %v, want SIGKILL", attr.Pdeathsig)
	}

	open := sysProcAttr(Config{AllowNetwork: true})
	if open.Cloneflags&syscall.CLONE_NEWNET != 0 {
		t.Error("network namespace set despite AllowNetwork")
	}
}

func TestMountPlanComposition(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "skills"), 0o755); err != nil {
		t.Fatal(err)
	}

	plan := buildMountPlan(Config{Command: []string{"agent"}, Dir: dir})

	if !slices.Contains(plan.Tmpfs, "/tmp") {
		t.Errorf("tmpfs set %v missing /tmp", plan.Tmpfs)
	}
	if !slices.Contains(plan.ReadOnly, "/etc") {
		t.Errorf("read-only set %v missing /etc", plan.ReadOnly)
	}
	if !slices.Contains(plan.ReadOnly, filepath.Join(dir, "skills")) {
		t.Errorf("read-only set %v missing skills subtree", plan.ReadOnly)
	}
	if slices.Contains(plan.ReadOnly, dir) {
		t.Error("workspace listed read-only")
	}

	// No skills subtree, no skills mount.
	bare := buildMountPlan(Config{Command: []string{"agent"}, Dir: t.TempDir()})
	for _, p := range bare.ReadOnly {
		if p == filepath.Join(bare.Dir, "skills") {
			t.Error("nonexistent skills subtree listed read-only")
		}
	}
}
