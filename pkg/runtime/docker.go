package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/botfleet/botfleet/pkg/log"
)

// DockerRuntime implements Runtime against the local Docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon using the standard
// environment (DOCKER_HOST etc.).
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Close closes the client connection
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

// Ping checks that the daemon responds.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// PullImage pulls imageRef from its registry.
func (d *DockerRuntime) PullImage(ctx context.Context, imageRef string) error {
	rc, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// Inspect returns the state of the named container. Absent containers are
// reported with StatusAbsent, not an error.
func (d *DockerRuntime) Inspect(ctx context.Context, name string) (ContainerInfo, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerInfo{Name: name, Status: StatusAbsent}, nil
		}
		return ContainerInfo{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	status := StatusStopped
	if info.State != nil && info.State.Running {
		status = StatusRunning
	}
	return ContainerInfo{
		ID:     info.ID,
		Name:   name,
		Image:  info.Config.Image,
		Status: status,
	}, nil
}

// Run creates and starts a container for spec. A leftover stopped
// container with the same name is removed first so Run is safe to repeat.
func (d *DockerRuntime) Run(ctx context.Context, spec ServiceSpec) (string, error) {
	existing, err := d.Inspect(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	if existing.Status == StatusRunning {
		return "", fmt.Errorf("container %s is already running", spec.Name)
	}
	if existing.Status == StatusStopped {
		if err := d.Remove(ctx, spec.Name); err != nil {
			return "", err
		}
	}

	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	if spec.ContainerPort > 0 && spec.HostPort > 0 {
		port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("invalid container port %d: %w", spec.ContainerPort, err)
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.HostPort)}},
		}
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	logger := log.WithComponent("runtime")
	logger.Info().
		Str("container", spec.Name).
		Str("image", spec.Image).
		Msg("container started")
	return created.ID, nil
}

// StartExisting starts an already-created container by name.
func (d *DockerRuntime) StartExisting(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Stop gracefully stops the container, force-killing after timeout.
func (d *DockerRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &seconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove deletes the container, killing it first if still running.
func (d *DockerRuntime) Remove(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}
