package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/botfleet/botfleet/pkg/config"
	"github.com/botfleet/botfleet/pkg/envfile"
	"github.com/botfleet/botfleet/pkg/log"
	"github.com/botfleet/botfleet/pkg/metrics"
	"github.com/botfleet/botfleet/pkg/retry"
	"github.com/botfleet/botfleet/pkg/runtime"
	"github.com/botfleet/botfleet/pkg/types"
)

// Provisioner is the tenant provisioning surface the pipeline drives.
type Provisioner interface {
	EnsureServerRunning(ctx context.Context) error
	EnsureTenantDatabase(ctx context.Context, id types.TenantIdentity) error
	EnsureTableAccess(ctx context.Context, id types.TenantIdentity) error
}

// Reconciler resolves migration state for a tenant.
type Reconciler interface {
	ComputeState(ctx context.Context, id types.TenantIdentity) (types.MigrationState, error)
	Reconcile(ctx context.Context, id types.TenantIdentity, state types.MigrationState) error
}

// Snapshotter captures and restores previous deployment state.
type Snapshotter interface {
	Create(tenant, deployDir, envFile, image string) (types.Snapshot, error)
	Restore(snap types.Snapshot, deployDir, envFile string) error
	Delete(tenant string) error
}

// HealthProber performs one service health round.
type HealthProber interface {
	ServiceHealthy(ctx context.Context, endpoint string) bool
}

// Recorder persists finished attempts. Satisfied by history.Store.
type Recorder interface {
	Record(a *types.Attempt) error
}

// Pipeline drives one tenant through a complete deploy-or-rollback cycle.
// One invocation handles one tenant; concurrent deployments of the same
// tenant must be serialized by the caller.
type Pipeline struct {
	Runtime     runtime.Runtime
	Provisioner Provisioner
	Reconciler  Reconciler
	Snapshots   Snapshotter
	Prober      HealthProber
	History     Recorder // optional

	Settings config.Settings
	Fleet    config.Fleet

	// StopTimeout bounds the graceful stop of the old instance before it
	// is force-killed.
	StopTimeout time.Duration

	// HealthPolicy bounds health polling of the new instance.
	HealthPolicy retry.Policy
}

// New assembles a pipeline with default stop and health budgets
// (30s graceful stop; 24 polls, 5s apart).
func New(rt runtime.Runtime, prov Provisioner, rec Reconciler, snaps Snapshotter, prober HealthProber, settings config.Settings, fleet config.Fleet) *Pipeline {
	return &Pipeline{
		Runtime:      rt,
		Provisioner:  prov,
		Reconciler:   rec,
		Snapshots:    snaps,
		Prober:       prober,
		Settings:     settings,
		Fleet:        fleet,
		StopTimeout:  30 * time.Second,
		HealthPolicy: retry.Fixed(5*time.Second, 24),
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Attempt *types.Attempt
	Err     error
}

// Exit codes let calling automation alert differently on rollback vs
// outright failure.
const (
	ExitSucceeded  = 0
	ExitFailed     = 1
	ExitRolledBack = 2
)

// ExitCode maps the final state to the process exit code.
func (r Result) ExitCode() int {
	switch r.Attempt.Final {
	case types.StateSucceeded:
		return ExitSucceeded
	case types.StateRolledBack:
		return ExitRolledBack
	default:
		return ExitFailed
	}
}

// run carries the mutable state of one attempt.
type run struct {
	attempt   *types.Attempt
	req       config.DeployRequest
	id        types.TenantIdentity
	logger    zerolog.Logger
	deployDir string
	envPath   string
	hostPort  int
	endpoint  string
	snap      types.Snapshot
	hasSnap   bool
}

func (p *Pipeline) tenantPaths(tenant string) (deployDir, envPath string) {
	deployDir = filepath.Join(p.Settings.StateDir, tenant, "current")
	return deployDir, filepath.Join(deployDir, ".env")
}

// Run executes the full state machine for one deployment request. It
// always returns a terminal attempt; Err carries the failure that ended
// it, if any.
func (p *Pipeline) Run(ctx context.Context, req config.DeployRequest) Result {
	timer := metrics.NewTimer()

	r := &run{
		req: req,
		attempt: &types.Attempt{
			ID:        uuid.NewString(),
			Tenant:    req.Tenant,
			Image:     req.Image,
			Mode:      req.Mode,
			StartedAt: time.Now().UTC(),
		},
		id: types.TenantIdentity{Name: req.Tenant, CredentialSecret: req.Secret},
	}
	r.logger = log.WithTenant(req.Tenant).With().Str("attempt_id", r.attempt.ID).Logger()
	r.deployDir, r.envPath = p.tenantPaths(req.Tenant)

	err := p.forward(ctx, r)
	if err != nil {
		p.resolveFailure(ctx, r, err)
	} else {
		p.enter(r, types.StateSucceeded, nil)
		r.attempt.Final = types.StateSucceeded
	}

	r.attempt.FinishedAt = time.Now().UTC()
	timer.ObserveDuration(metrics.DeploymentDuration)
	metrics.DeploymentsTotal.WithLabelValues(string(r.attempt.Final)).Inc()

	if p.History != nil {
		if recErr := p.History.Record(r.attempt); recErr != nil {
			r.logger.Warn().Err(recErr).Msg("failed to record attempt history")
		}
	}

	p.summarize(r)
	return Result{Attempt: r.attempt, Err: err}
}

// forward walks the happy path; the first failing state aborts it.
func (p *Pipeline) forward(ctx context.Context, r *run) error {
	steps := []struct {
		state types.AttemptState
		fn    func(context.Context, *run) error
	}{
		{types.StateValidating, p.validating},
		{types.StateBackingUp, p.backingUp},
		{types.StateStoppingOld, p.stoppingOld},
		{types.StateProvisioning, p.provisioning},
		{types.StateMigrating, p.migrating},
		{types.StateStarting, p.starting},
		{types.StateHealthChecking, p.healthChecking},
	}

	for _, step := range steps {
		p.enter(r, step.state, nil)
		if err := step.fn(ctx, r); err != nil {
			p.enter(r, step.state, err)
			r.attempt.FailedIn = step.state
			r.attempt.Error = err.Error()
			return err
		}
		r.logger.Info().Str("state", string(step.state)).Msg("state completed")
	}
	return nil
}

// resolveFailure decides between plain failure and rollback for the error
// that stopped the forward pass.
func (p *Pipeline) resolveFailure(ctx context.Context, r *run, err error) {
	failedIn := r.attempt.FailedIn

	// Nothing was changed during validation or backup; terminate
	// immediately with no rollback.
	if failedIn == types.StateValidating || failedIn == types.StateBackingUp {
		r.attempt.Final = types.StateFailed
		return
	}

	// Rollback restores the service only. In particular, a migration
	// ambiguity still relaunches the previous instance, but the schema is
	// left exactly as found for the operator.
	p.rollback(ctx, r)
}

// rollback stops the new instance, restores the snapshot, and relaunches
// the previous instance. Without a valid snapshot the attempt ends Failed.
func (p *Pipeline) rollback(ctx context.Context, r *run) {
	p.enter(r, types.StateRollingBack, nil)
	metrics.RollbacksTotal.Inc()

	if !r.hasSnap {
		p.enter(r, types.StateFailed, errors.New("no snapshot to roll back to"))
		r.attempt.Final = types.StateFailed
		return
	}

	container := r.id.ContainerName()
	if err := p.Runtime.Stop(ctx, container, p.StopTimeout); err != nil {
		r.logger.Warn().Err(err).Msg("failed to stop new instance during rollback")
	}
	if err := p.Runtime.Remove(ctx, container); err != nil {
		r.logger.Warn().Err(err).Msg("failed to remove new instance during rollback")
	}

	if err := p.Snapshots.Restore(r.snap, r.deployDir, r.envPath); err != nil {
		p.enter(r, types.StateFailed, fmt.Errorf("restore snapshot: %w", err))
		r.attempt.Final = types.StateFailed
		return
	}

	// Relaunch the previous instance if one was running before the
	// attempt began.
	if r.snap.Image != "" {
		values, err := envfile.Read(r.envPath)
		if err != nil {
			p.enter(r, types.StateFailed, fmt.Errorf("read restored env file: %w", err))
			r.attempt.Final = types.StateFailed
			return
		}
		_, err = p.Runtime.Run(ctx, runtime.ServiceSpec{
			Name:          container,
			Image:         r.snap.Image,
			Env:           envfile.Flatten(values),
			Labels:        p.serviceLabels(r, r.snap.Image),
			ContainerPort: p.Fleet.Defaults.ContainerPort,
			HostPort:      r.hostPort,
		})
		if err != nil {
			p.enter(r, types.StateFailed, fmt.Errorf("relaunch previous instance: %w", err))
			r.attempt.Final = types.StateFailed
			return
		}
	}

	// The snapshot is consumed by rollback.
	if err := p.Snapshots.Delete(r.req.Tenant); err != nil {
		r.logger.Warn().Err(err).Msg("failed to delete consumed snapshot")
	}

	p.enter(r, types.StateRolledBack, nil)
	r.attempt.Final = types.StateRolledBack
}

func (p *Pipeline) enter(r *run, state types.AttemptState, err error) {
	t := types.Transition{State: state, EnteredAt: time.Now().UTC()}
	event := r.logger.Info()
	if err != nil {
		t.Err = err.Error()
		event = r.logger.Error().Err(err)
	}
	r.attempt.Transitions = append(r.attempt.Transitions, t)
	event.Str("state", string(state)).Msg("state entered")
}

func (p *Pipeline) summarize(r *run) {
	a := r.attempt
	event := r.logger.Info()
	if a.Final != types.StateSucceeded {
		event = r.logger.Error()
		if a.FailedIn != "" {
			event = event.Str("failed_in", string(a.FailedIn))
		}
		if a.Error != "" {
			event = event.Str("error", a.Error)
		}
	}
	event.
		Str("final", string(a.Final)).
		Str("image", a.Image).
		Dur("took", a.FinishedAt.Sub(a.StartedAt)).
		Msg("deployment finished")
}

func (p *Pipeline) serviceLabels(r *run, image string) map[string]string {
	return map[string]string{
		"botfleet.tenant": r.req.Tenant,
		"botfleet.image":  image,
		"botfleet.mode":   string(r.req.Mode),
	}
}
