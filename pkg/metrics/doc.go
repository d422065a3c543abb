/*
Package metrics exposes Prometheus metrics for the deployment pipeline:
attempt counts by result, attempt durations, rollbacks, tenants
provisioned, stamped migration histories, and health check rounds.

Metrics are registered on the default registry at init. Handler returns
the scrape endpoint for hosts that run the orchestrator long enough to be
scraped; one-shot CLI invocations simply never serve it.
*/
package metrics
