//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// seatbeltBackend wraps the command in sandbox-exec with a generated profile:
// default deny, read access to system paths, write access restricted to the
// working directory, network denied unless allowed.
type seatbeltBackend struct{}

func newSeatbeltBackend() Backend { return seatbeltBackend{} }

func (seatbeltBackend) Name() string { return "seatbelt" }

func (seatbeltBackend) Available() bool {
	_, err := exec.LookPath("sandbox-exec")
	return err == nil
}

func (b seatbeltBackend) Start(ctx context.Context, cfg Config) (*Process, error) {
	profile := seatbeltProfile(cfg.Dir, cfg.AllowNetwork)
	f, err := os.CreateTemp("", "clawden-seatbelt-*.sb")
	if err != nil {
		return nil, fmt.Errorf("profile temp file: %w", err)
	}
	if _, err := f.WriteString(profile); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write profile: %w", err)
	}
	f.Close()

	args := append([]string{"-f", f.Name()}, cfg.Command...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	proc, err := newExecProcess(cmd, nil)
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	inner := proc.waitFn
	proc.waitFn = func() error {
		defer os.Remove(f.Name())
		return inner()
	}
	return proc, nil
}

func seatbeltProfile(workDir string, allowNetwork bool) string {
	var sb strings.Builder
	sb.WriteString("(version 1)\n(deny default)\n")
	sb.WriteString("(allow process-exec)\n(allow process-fork)\n(allow signal (target same-sandbox))\n")
	sb.WriteString("(allow sysctl-read)\n(allow mach-lookup)\n")
	sb.WriteString("(allow file-read* (subpath \"/usr\") (subpath \"/bin\") (subpath \"/sbin\") (subpath \"/System\") (subpath \"/Library\") (subpath \"/private/etc\") (subpath \"/dev\"))\n")
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err == nil {
			fmt.Fprintf(&sb, "(allow file-read* file-write* (subpath %q))\n", abs)
		}
	}
	sb.WriteString("(allow file-read* file-write* (subpath \"/private/tmp\") (subpath \"/private/var/tmp\"))\n")
	if allowNetwork {
		sb.WriteString("(allow network*)\n")
	}
	return sb.String()
}
