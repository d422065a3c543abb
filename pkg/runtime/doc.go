/*
Package runtime adapts the local Docker daemon to the small container
surface the deployment pipeline needs: pull, run, stop, remove, inspect.

The Runtime interface exists so the pipeline and provisioner can be unit
tested against in-memory fakes; DockerRuntime is the only production
implementation. Absent containers are reported as a status rather than an
error so every operation stays idempotent and safe to re-run.
*/
package runtime
