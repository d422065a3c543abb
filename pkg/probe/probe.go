package probe

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/botfleet/botfleet/pkg/log"
)

// Pinger is the minimal surface the prober needs from the container
// runtime. Satisfied by runtime.DockerRuntime.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober answers "is resource X reachable" without side effects. All
// methods return a boolean status; "not ready" is never an error, so
// callers own the retry policy.
type Prober struct {
	// AdminConnString is the admin DSN for the shared database server.
	AdminConnString string

	// Runtime is the container runtime to probe. Optional; RuntimeReady
	// reports false when nil.
	Runtime Pinger

	// ProbeTimeout bounds each individual probe round.
	ProbeTimeout time.Duration
}

// New creates a prober for the shared database server and container runtime.
func New(adminConnString string, rt Pinger) *Prober {
	return &Prober{
		AdminConnString: adminConnString,
		Runtime:         rt,
		ProbeTimeout:    3 * time.Second,
	}
}

// DatabaseReady reports whether the shared database server accepts
// connections. One connect-and-ping round, nothing else.
func (p *Prober) DatabaseReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, p.AdminConnString)
	if err != nil {
		logger := log.WithComponent("probe")
		logger.Debug().Err(err).Msg("database server not ready")
		return false
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		logger := log.WithComponent("probe")
		logger.Debug().Err(err).Msg("database ping failed")
		return false
	}
	return true
}

// RuntimeReady reports whether the container runtime responds.
func (p *Prober) RuntimeReady(ctx context.Context) bool {
	if p.Runtime == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
	defer cancel()

	if err := p.Runtime.Ping(ctx); err != nil {
		logger := log.WithComponent("probe")
		logger.Debug().Err(err).Msg("container runtime not ready")
		return false
	}
	return true
}

// ServiceHealthy performs one health check round against the service's
// health endpoint. The endpoint succeeds only when the service's required
// configuration (at minimum a non-empty credential) is present, so this is
// a configuration-sanity check rather than a full liveness probe.
func (p *Prober) ServiceHealthy(ctx context.Context, endpoint string) bool {
	result := NewHTTPChecker(endpoint).WithTimeout(p.ProbeTimeout).Check(ctx)
	if !result.Healthy {
		logger := log.WithComponent("probe")
		logger.Debug().
			Str("endpoint", endpoint).
			Str("reason", result.Message).
			Msg("service not healthy")
	}
	return result.Healthy
}
