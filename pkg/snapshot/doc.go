/*
Package snapshot captures and restores the previous working deployment
state for one tenant: a copy of the deployment directory, the generated
environment file, and the image reference that was running.

Exactly one snapshot is retained per tenant (latest wins). Snapshots exist
solely for rollback; forward deploys never read them.
*/
package snapshot
