/*
Package pipeline drives one tenant through a complete deploy-or-rollback
cycle as an explicit state machine:

	Validating → BackingUp → StoppingOld → Provisioning → Migrating →
	Starting → HealthChecking → Succeeded
	                         ↘ RollingBack → RolledBack
	                                       ↘ Failed

Failures in Validating or BackingUp terminate immediately: nothing has
changed yet. From StoppingOld onward failures roll back using the
snapshot taken in BackingUp. Rollback restores the service only; the
database schema is never rolled back, so a migration ambiguity relaunches
the previous instance and leaves the schema exactly as found for the
operator.

Each state's entry action is a method on Pipeline over narrow
collaborator interfaces, so transitions are unit-testable without real
infrastructure. The pipeline never auto-retries a failed state; retries
exist only inside bounded waits (server readiness, health polling).
Re-running the whole pipeline after a terminal state is safe: every step
is idempotent or naturally repeatable.

Cutover stops the old instance before starting the new one, so a deploy
has a short downtime window; this is deliberate, not a blue/green
strategy.
*/
package pipeline
