package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func subprocessManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("subprocess", "")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestUnknownBackendRejected(t *testing.T) {
	if _, err := NewManager("hypervisor", ""); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestEmptyCommandRejected(t *testing.T) {
	m := subprocessManager(t)
	if _, err := m.Start(context.Background(), Config{}); err == nil {
		t.Error("empty command accepted")
	}
}

func TestRunCollectsOutput(t *testing.T) {
	m := subprocessManager(t)
	proc, err := m.Start(context.Background(), Config{
		Command: []string{"sh", "-c", "echo out; echo err >&2"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	proc.Stdin.Close()

	stdout, _ := io.ReadAll(proc.Stdout)
	stderr, _ := io.ReadAll(proc.Stderr)
	if err := proc.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if strings.TrimSpace(string(stdout)) != "out" {
		t.Errorf("stdout = %q", stdout)
	}
	if strings.TrimSpace(string(stderr)) != "err" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestStdinReachesProcess(t *testing.T) {
	m := subprocessManager(t)
	proc, err := m.Start(context.Background(), Config{
		Command: []string{"cat"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(proc.Stdin, "payload")
	proc.Stdin.Close()

	out, _ := io.ReadAll(proc.Stdout)
	if err := proc.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(out) != "payload" {
		t.Errorf("stdout = %q", out)
	}
}

func TestTimeoutKillsProcess(t *testing.T) {
	m := subprocessManager(t)
	proc, err := m.Start(context.Background(), Config{
		Command: []string{"sleep", "30"},
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	err = proc.Wait()
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("wait = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took %s", elapsed)
	}
}

func TestKillIdempotent(t *testing.T) {
	m := subprocessManager(t)
	proc, err := m.Start(context.Background(), Config{
		Command: []string{"sleep", "30"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("first kill: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Errorf("second kill: %v", err)
	}
	_ = proc.Wait()
	if err := proc.Kill(); err != nil {
		t.Errorf("kill after exit: %v", err)
	}
}

func TestNonZeroExitReported(t *testing.T) {
	m := subprocessManager(t)
	proc, err := m.Start(context.Background(), Config{
		Command: []string{"sh", "-c", "exit 3"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	proc.Stdin.Close()
	if err := proc.Wait(); err == nil {
		t.Error("non-zero exit not reported")
	}
}
