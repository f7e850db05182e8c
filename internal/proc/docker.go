package proc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	containerUser   = "1000"
	stopTimeoutSecs = 10

	// Resource limits for session containers.
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 256
)

// DockerSpawner launches one container per session and attaches to its TTY.
// Named distros map to container images ("<prefix><distro>:latest").
type DockerSpawner struct {
	cli          *client.Client
	imagePrefix  string
	defaultImage string
	runtime      string
	logger       *slog.Logger
}

// NewDockerSpawner creates a container-backed spawner. runtime can be "" for
// the default Docker runtime or "runsc" for gVisor.
func NewDockerSpawner(imagePrefix, defaultImage, runtime string, logger *slog.Logger) (*DockerSpawner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerSpawner{
		cli:          cli,
		imagePrefix:  imagePrefix,
		defaultImage: defaultImage,
		runtime:      runtime,
		logger:       logger,
	}, nil
}

// Client returns the underlying Docker client.
func (s *DockerSpawner) Client() *client.Client {
	return s.cli
}

func (s *DockerSpawner) resolveImageAndCmd(spec ShellSpec) (image string, cmd []string, err error) {
	switch spec.Kind {
	case KindDistro:
		if spec.Distro == "" {
			return "", nil, fmt.Errorf("%w: empty distro name", ErrSpawnFailed)
		}
		return s.imagePrefix + spec.Distro + ":latest", nil, nil
	case KindCommand:
		if len(spec.Argv) == 0 {
			return "", nil, fmt.Errorf("%w: empty command", ErrSpawnFailed)
		}
		return s.defaultImage, spec.Argv, nil
	default:
		return s.defaultImage, nil, nil
	}
}

// Spawn creates, starts, and attaches to a session container.
func (s *DockerSpawner) Spawn(ctx context.Context, spec ShellSpec, cols, rows uint16) (Handle, error) {
	image, cmd, err := s.resolveImageAndCmd(spec)
	if err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image:       image,
		Cmd:         cmd,
		User:        containerUser,
		Tty:         true,
		OpenStdin:   true,
		StdinOnce:   false,
		AttachStdin: true,
	}
	hostCfg := &container.HostConfig{
		Runtime:    s.runtime,
		AutoRemove: false,
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: create container from %s: %v", ErrSpawnFailed, image, err)
	}

	attach, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		s.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: attach to container %s: %v", ErrSpawnFailed, resp.ID, err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		s.removeContainer(resp.ID)
		return nil, fmt.Errorf("%w: start container %s: %v", ErrSpawnFailed, resp.ID, err)
	}

	if err := s.cli.ContainerResize(ctx, resp.ID, container.ResizeOptions{Width: uint(cols), Height: uint(rows)}); err != nil {
		s.logger.Warn("Initial container resize failed", "container_id", resp.ID, "error", err)
	}

	s.logger.Info("Session container started", "container_id", resp.ID, "image", image, "cols", cols, "rows", rows)
	return &dockerHandle{spawner: s, containerID: resp.ID, conn: attach.Conn}, nil
}

// removeContainer force-removes a container, tolerating the not-found and
// already-in-progress races the daemon can report during teardown.
func (s *DockerSpawner) removeContainer(containerID string) {
	ctx := context.Background()
	timeout := stopTimeoutSecs
	if err := s.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		s.logger.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}
	if err := s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return
		}
		s.logger.Warn("Failed to remove session container", "container_id", containerID, "error", err)
	}
}

type dockerHandle struct {
	spawner     *DockerSpawner
	containerID string
	conn        interface {
		Read(p []byte) (int, error)
		Write(p []byte) (int, error)
		Close() error
	}
	killOnce sync.Once
}

func (h *dockerHandle) Read(p []byte) (int, error) {
	return h.conn.Read(p)
}

func (h *dockerHandle) Write(p []byte) (int, error) {
	return h.conn.Write(p)
}

func (h *dockerHandle) Resize(cols, rows uint16) error {
	err := h.spawner.cli.ContainerResize(context.Background(), h.containerID, container.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	})
	if err != nil {
		return fmt.Errorf("resize container %s to %dx%d: %w", h.containerID, cols, rows, err)
	}
	return nil
}

// Kill closes the attach stream, unblocking any pending Read, then removes
// the container. Safe to call more than once.
func (h *dockerHandle) Kill() error {
	h.killOnce.Do(func() {
		if err := h.conn.Close(); err != nil {
			h.spawner.logger.Debug("Failed to close attach stream", "container_id", h.containerID, "error", err)
		}
		h.spawner.removeContainer(h.containerID)
	})
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
