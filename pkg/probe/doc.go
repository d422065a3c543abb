/*
Package probe implements read-only readiness checks for the resources a
deployment depends on: the shared Postgres server, the container runtime,
and the deployed service's health endpoint.

Probes are strictly side-effect free and report status as booleans. "Not
ready" is never an error; only programmer errors (malformed input) can
surface as errors. Retry policy belongs to the caller, which wraps probes
in a retry.Policy when it needs to wait.
*/
package probe
