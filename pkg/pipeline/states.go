package pipeline

import (
	"context"
	"fmt"

	"github.com/botfleet/botfleet/pkg/envfile"
	"github.com/botfleet/botfleet/pkg/metrics"
	"github.com/botfleet/botfleet/pkg/runtime"
	"github.com/botfleet/botfleet/pkg/types"
)

// validating checks every required input before any side effect.
func (p *Pipeline) validating(ctx context.Context, r *run) error {
	if err := r.req.Validate(); err != nil {
		return err
	}

	tenantCfg, ok := p.Fleet.Tenants[r.req.Tenant]
	if !ok || tenantCfg.HostPort == 0 {
		return &types.ValidationError{
			Field:  "Tenant",
			Reason: fmt.Sprintf("tenant %q has no host_port in the fleet file", r.req.Tenant),
		}
	}
	r.hostPort = tenantCfg.HostPort
	r.endpoint = fmt.Sprintf("http://127.0.0.1:%d%s", r.hostPort, p.Fleet.Defaults.HealthPath)
	return nil
}

// backingUp snapshots the current deployment directory and env file along
// with the image reference currently running, so rollback can put all
// three back.
func (p *Pipeline) backingUp(ctx context.Context, r *run) error {
	prevImage := ""
	info, err := p.Runtime.Inspect(ctx, r.id.ContainerName())
	if err != nil {
		return err
	}
	if info.Status == runtime.StatusRunning {
		prevImage = info.Image
	}

	snap, err := p.Snapshots.Create(r.req.Tenant, r.deployDir, r.envPath, prevImage)
	if err != nil {
		return err
	}
	r.snap = snap
	r.hasSnap = true
	return nil
}

// stoppingOld gracefully stops the tenant's running instance. Stopping an
// absent instance is a no-op, which keeps first deploys and re-runs safe.
func (p *Pipeline) stoppingOld(ctx context.Context, r *run) error {
	if err := p.Runtime.Stop(ctx, r.id.ContainerName(), p.StopTimeout); err != nil {
		return fmt.Errorf("stop old instance: %w", err)
	}
	return nil
}

// provisioning ensures the shared server is up and the tenant's database,
// principal, and grants exist.
func (p *Pipeline) provisioning(ctx context.Context, r *run) error {
	if err := p.Provisioner.EnsureServerRunning(ctx); err != nil {
		return err
	}
	return p.Provisioner.EnsureTenantDatabase(ctx, r.id)
}

// migrating reconciles schema state and brings the tenant schema to head,
// then refreshes the tenant principal's object grants. Migrations run
// through the admin connection, so tables they create are owned by the
// admin role until granted.
func (p *Pipeline) migrating(ctx context.Context, r *run) error {
	state, err := p.Reconciler.ComputeState(ctx, r.id)
	if err != nil {
		return err
	}
	if err := p.Reconciler.Reconcile(ctx, r.id, state); err != nil {
		return err
	}
	return p.Provisioner.EnsureTableAccess(ctx, r.id)
}

// starting regenerates the env file, pulls the requested image, and
// launches the new instance. The old instance is already stopped: cutover
// has downtime by design.
func (p *Pipeline) starting(ctx context.Context, r *run) error {
	values := envfile.Build(r.id, r.req.Mode, p.Settings.DBHost, p.Settings.DBPort,
		p.Fleet.Tenants[r.req.Tenant].Toggles)
	if err := envfile.Write(r.envPath, values); err != nil {
		return err
	}

	if err := p.Runtime.PullImage(ctx, r.req.Image); err != nil {
		return fmt.Errorf("pull image: %w", err)
	}

	// Replace any stopped leftover container from the previous deploy.
	if err := p.Runtime.Remove(ctx, r.id.ContainerName()); err != nil {
		return fmt.Errorf("remove old container: %w", err)
	}

	_, err := p.Runtime.Run(ctx, runtime.ServiceSpec{
		Name:          r.id.ContainerName(),
		Image:         r.req.Image,
		Env:           envfile.Flatten(values),
		Labels:        p.serviceLabels(r, r.req.Image),
		ContainerPort: p.Fleet.Defaults.ContainerPort,
		HostPort:      r.hostPort,
	})
	if err != nil {
		return fmt.Errorf("start new instance: %w", err)
	}
	return nil
}

// healthChecking polls the new instance's health endpoint at fixed
// intervals within a bounded budget.
func (p *Pipeline) healthChecking(ctx context.Context, r *run) error {
	err := p.HealthPolicy.Until(ctx, func(ctx context.Context) bool {
		healthy := p.Prober.ServiceHealthy(ctx, r.endpoint)
		outcome := "unhealthy"
		if healthy {
			outcome = "healthy"
		}
		metrics.HealthCheckRounds.WithLabelValues(outcome).Inc()
		return healthy
	})
	if err != nil {
		// An operator interrupt is not a health verdict.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &types.HealthCheckTimeoutError{
			Endpoint: r.endpoint,
			Waited:   p.HealthPolicy.Budget(),
		}
	}
	return nil
}
