/*
Package types defines the core data model shared across botfleet packages.

It contains the tenant identity (the idempotency key for provisioning and
the source of all derived resource names), the deployment snapshot record,
the migration state classification, the deployment attempt state machine
states, and the error taxonomy used to decide between abort and rollback.

Keeping these types in a leaf package avoids import cycles between the
pipeline and the components it orchestrates.
*/
package types
