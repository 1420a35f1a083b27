package sandbox

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const defaultImage = "clawden/agent:latest"

// containerBackend runs the agent in a docker container: no network,
// read-only rootfs, all capabilities dropped, the working directory bind
// mounted at /workspace.
type containerBackend struct {
	image string
}

func newContainerBackend(image string) Backend {
	if image == "" {
		image = defaultImage
	}
	return &containerBackend{image: image}
}

func (b *containerBackend) Name() string { return "container" }

func (b *containerBackend) Available() bool {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return false
	}
	defer cli.Close()
	_, err = cli.Ping(context.Background())
	return err == nil
}

func (b *containerBackend) Start(ctx context.Context, cfg Config) (*Process, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	image := cfg.Image
	if image == "" {
		image = b.image
	}
	networkMode := container.NetworkMode("none")
	if cfg.AllowNetwork {
		networkMode = "bridge"
	}

	containerCfg := &container.Config{
		Image:        image,
		Cmd:          cfg.Command,
		Env:          cfg.Env,
		WorkingDir:   "/workspace",
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       map[string]string{"clawden.managed-by": "clawden"},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    networkMode,
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		Resources: container.Resources{
			Memory:    cfg.MemoryLimitMB << 20,
			PidsLimit: pidsLimitPtr(cfg.PidsLimit),
		},
	}
	if cfg.Dir != "" {
		hostCfg.Mounts = []mount.Mount{
			{Type: mount.TypeBind, Source: cfg.Dir, Target: "/workspace"},
		}
	}

	resp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("create container: %w", err)
	}
	id := resp.ID

	attach, err := cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		_ = cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		cli.Close()
		return nil, fmt.Errorf("attach: %w", err)
	}

	if err := cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		attach.Close()
		_ = cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		cli.Close()
		return nil, fmt.Errorf("start container: %w", err)
	}

	// The attach stream multiplexes stdout and stderr; demux into pipes.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(outW, errW, attach.Reader)
		outW.CloseWithError(err)
		errW.CloseWithError(err)
	}()

	waitCh, errCh := cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	return &Process{
		Stdin:  attach.Conn,
		Stdout: outR,
		Stderr: errR,
		waitFn: func() error {
			defer func() {
				_ = cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
				cli.Close()
			}()
			select {
			case status := <-waitCh:
				if status.Error != nil {
					return fmt.Errorf("container wait: %s", status.Error.Message)
				}
				if status.StatusCode != 0 {
					return fmt.Errorf("container exited with status %d", status.StatusCode)
				}
				return nil
			case err := <-errCh:
				return fmt.Errorf("container wait: %w", err)
			}
		},
		killFn: func() error {
			return cli.ContainerKill(context.Background(), id, "KILL")
		},
	}, nil
}

func pidsLimitPtr(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}
