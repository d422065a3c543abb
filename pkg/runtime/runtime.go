package runtime

import (
	"context"
	"time"
)

// Status is the coarse lifecycle state of a named container.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusAbsent  Status = "absent"
)

// ContainerInfo describes an existing container.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	Status Status
}

// ServiceSpec describes one service container to launch.
type ServiceSpec struct {
	Name  string
	Image string
	// Env is the full environment, KEY=VALUE form. The caller regenerates
	// it from the tenant's env file on every deploy.
	Env    []string
	Labels map[string]string
	// ContainerPort is the port the service listens on inside the
	// container; HostPort is where it is published on the host. Zero
	// values skip publishing.
	ContainerPort int
	HostPort      int
}

// Runtime is the container runtime surface the orchestrator needs. The
// production implementation is DockerRuntime; tests use fakes.
type Runtime interface {
	Ping(ctx context.Context) error
	PullImage(ctx context.Context, imageRef string) error
	Inspect(ctx context.Context, name string) (ContainerInfo, error)
	// Run creates and starts a container for spec, replacing any stopped
	// container of the same name.
	Run(ctx context.Context, spec ServiceSpec) (string, error)
	// StartExisting starts an already-created container by name.
	StartExisting(ctx context.Context, name string) error
	// Stop gracefully stops the named container within timeout, then
	// force-kills. Stopping an absent or already-stopped container is a
	// no-op.
	Stop(ctx context.Context, name string, timeout time.Duration) error
	// Remove deletes the named container. Removing an absent container is
	// a no-op.
	Remove(ctx context.Context, name string) error
}
