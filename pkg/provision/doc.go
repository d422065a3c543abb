/*
Package provision creates the per-tenant resources on the shared Postgres
server: a database, a login role, and the grants tying them together.

Everything is phrased as an ensure-exists operation keyed on the tenant
name, so provisioning is idempotent and safe under concurrent deployments
of different tenants without any locking. Two rules keep existing tenants
safe: an existing role's password is never changed (the running service
still holds it), and this package never drops anything.

Schema objects are created by migrations running on the admin connection
and are therefore admin-owned. EnsureTableAccess grants the tenant role
access to them and must run again after every migration pass.

The provisioner does not retry failed statements itself; the deployment
pipeline decides whether a provisioning failure aborts the whole deploy.
*/
package provision
