/*
Package retry provides the bounded fixed-backoff polling primitive used by
the resource prober and health checking.

All waits in botfleet go through a Policy so every suspension point has an
explicit budget: on exhaustion the caller gets ErrBudgetExhausted and
decides whether to abort or roll back, rather than blocking indefinitely.
*/
package retry
