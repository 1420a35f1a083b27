//go:build linux

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Stage environment. The backend re-execs the host binary inside the new
// namespaces; the stage composes the mount table and then replaces itself
// with the agent command.
const (
	stageEnv = "CLAWDEN_SANDBOX_STAGE"
	planEnv  = "CLAWDEN_SANDBOX_PLAN"
)

func init() {
	if os.Getenv(stageEnv) == "" {
		return
	}
	runStage()
}

// namespaceBackend isolates the agent in mount, PID, IPC and (unless network
// is allowed) network namespaces, using an unprivileged user namespace when
// not running as root. The mount namespace gets a private propagation root,
// read-only system directories, a fresh /tmp and a read-only skills subtree;
// the workspace stays writable. Memory and fd limits are applied post-start
// via prlimit.
type namespaceBackend struct{}

func newNamespaceBackend() Backend { return namespaceBackend{} }

func (namespaceBackend) Name() string { return "namespace" }

func (namespaceBackend) Available() bool {
	if os.Geteuid() == 0 {
		return true
	}
	if val, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		return strings.TrimSpace(string(val)) == "1"
	}
	// Sysctl absent on some kernels. Probing with a real clone is the only
	// reliable check.
	return probeUserNamespace()
}

func probeUserNamespace() bool {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1},
		},
	}
	return cmd.Run() == nil
}

func (b namespaceBackend) Start(ctx context.Context, cfg Config) (*Process, error) {
	plan := buildMountPlan(cfg)
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode mount plan: %w", err)
	}

	cmd := exec.CommandContext(ctx, "/proc/self/exe")
	cmd.Dir = cfg.Dir
	cmd.Env = append(append([]string{}, cfg.Env...),
		stageEnv+"=1",
		planEnv+"="+string(data),
	)
	cmd.SysProcAttr = sysProcAttr(cfg)
	return newExecProcess(cmd, func(pid int) error {
		applyLimits(pid, cfg)
		return nil
	})
}

func sysProcAttr(cfg Config) *syscall.SysProcAttr {
	flags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWIPC)
	if !cfg.AllowNetwork {
		flags |= syscall.CLONE_NEWNET
	}
	attr := &syscall.SysProcAttr{
		Cloneflags: flags,
		// The agent must not outlive the host.
		Pdeathsig: syscall.SIGKILL,
	}

	if os.Geteuid() != 0 {
		attr.Cloneflags |= syscall.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{
			{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1},
		}
		attr.GidMappings = []syscall.SysProcIDMap{
			{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1},
		}
	}
	return attr
}

// mountPlan is the stage's instruction set, serialized through the
// environment because the stage runs before any argv parsing.
type mountPlan struct {
	Command  []string `json:"command"`
	Dir      string   `json:"dir"`
	ReadOnly []string `json:"readOnly"`
	Tmpfs    []string `json:"tmpfs"`
}

// systemDirs are bind-remounted read-only inside the mount namespace.
var systemDirs = []string{"/usr", "/bin", "/sbin", "/lib", "/lib32", "/lib64", "/etc", "/opt"}

// buildMountPlan composes the mount table: system dirs read-only, a fresh
// /tmp, the skills subtree read-only. The workspace itself is not listed and
// stays read-write.
func buildMountPlan(cfg Config) mountPlan {
	plan := mountPlan{
		Command: cfg.Command,
		Dir:     cfg.Dir,
		Tmpfs:   []string{"/tmp"},
	}
	for _, dir := range systemDirs {
		if fi, err := os.Lstat(dir); err == nil && fi.IsDir() {
			plan.ReadOnly = append(plan.ReadOnly, dir)
		}
	}
	if cfg.Dir != "" {
		skills := filepath.Join(cfg.Dir, "skills")
		if fi, err := os.Stat(skills); err == nil && fi.IsDir() {
			plan.ReadOnly = append(plan.ReadOnly, skills)
		}
	}
	return plan
}

// runStage executes inside the fresh namespaces: apply the mount plan, then
// replace this process with the agent command. Never returns.
func runStage() {
	fail := func(msg string, err error) {
		fmt.Fprintf(os.Stderr, "sandbox stage: %s: %v\n", msg, err)
		os.Exit(125)
	}

	var plan mountPlan
	if err := json.Unmarshal([]byte(os.Getenv(planEnv)), &plan); err != nil {
		fail("decode mount plan", err)
	}
	if len(plan.Command) == 0 {
		fail("empty command", nil)
	}
	if err := applyMounts(plan); err != nil {
		fail("apply mounts", err)
	}
	if plan.Dir != "" {
		if err := os.Chdir(plan.Dir); err != nil {
			fail("chdir", err)
		}
	}

	path, err := exec.LookPath(plan.Command[0])
	if err != nil {
		fail("resolve command", err)
	}
	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, stageEnv+"=") || strings.HasPrefix(kv, planEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	if err := unix.Exec(path, plan.Command, env); err != nil {
		fail("exec", err)
	}
}

// applyMounts makes mount propagation private so nothing leaks back to the
// host, mounts fresh tmpfs trees, and bind-remounts the read-only set.
func applyMounts(plan mountPlan) error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make / private: %w", err)
	}
	for _, dir := range plan.Tmpfs {
		if err := unix.Mount("tmpfs", dir, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "size=64m"); err != nil {
			return fmt.Errorf("tmpfs %s: %w", dir, err)
		}
	}
	for _, dir := range plan.ReadOnly {
		if err := unix.Mount(dir, dir, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("bind %s: %w", dir, err)
		}
		if err := unix.Mount("", dir, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_NOSUID, ""); err != nil {
			return fmt.Errorf("remount ro %s: %w", dir, err)
		}
	}
	return nil
}

// applyLimits is best effort; a failed prlimit is logged, not fatal.
func applyLimits(pid int, cfg Config) {
	if cfg.MemoryLimitMB > 0 {
		// RLIMIT_AS caps virtual address space. JIT runtimes reserve large
		// address ranges at startup, so enforce a 4 GiB floor.
		mem := uint64(cfg.MemoryLimitMB) << 20
		const minVAS = 4 << 30
		if mem < minVAS {
			mem = minVAS
		}
		setRlimit(pid, unix.RLIMIT_AS, mem)
	}
	if cfg.PidsLimit > 0 {
		setRlimit(pid, unix.RLIMIT_NPROC, uint64(cfg.PidsLimit))
	}
}

func setRlimit(pid, resource int, value uint64) {
	lim := unix.Rlimit{Cur: value, Max: value}
	if err := unix.Prlimit(pid, resource, &lim, nil); err != nil {
		slog.Warn("sandbox.prlimit_failed", "pid", pid, "resource", resource, "error", err)
	}
}
