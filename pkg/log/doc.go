/*
Package log provides structured logging for botfleet built on zerolog.

A single global logger is initialized once at process start (Init) and
packages derive child loggers scoped to a component, tenant, or deployment
attempt. Console output is the default since deployments are typically
driven from a terminal; JSON output is available for CI pipelines.
*/
package log
