/*
Package config loads the orchestrator's configuration from three places:
process environment (operator knobs like the state directory and admin
database access), the optional per-host fleet file (tenants.yaml with port
assignments and feature toggles), and per-invocation deploy requests.

Deploy request validation is strict: every required input must be present
and well-formed, and failures surface as typed validation errors before
any side effect happens.
*/
package config
