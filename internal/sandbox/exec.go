package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

// newExecProcess wires an exec.Cmd into the Process contract. postStart runs
// after the process exists, before the caller sees it (resource limits).
func newExecProcess(cmd *exec.Cmd, postStart func(pid int) error) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if postStart != nil {
		if err := postStart(cmd.Process.Pid); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, err
		}
	}
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		pid:    cmd.Process.Pid,
		waitFn: cmd.Wait,
		killFn: cmd.Process.Kill,
	}, nil
}

// subprocessBackend runs the command directly with no isolation.
type subprocessBackend struct{}

func (subprocessBackend) Name() string    { return "subprocess" }
func (subprocessBackend) Available() bool { return true }

func (subprocessBackend) Start(ctx context.Context, cfg Config) (*Process, error) {
	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	return newExecProcess(cmd, nil)
}
