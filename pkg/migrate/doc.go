/*
Package migrate reconciles a tenant's physical schema with its tracked
migration history and applies embedded SQL migrations.

The interesting case is a database whose tables exist but whose history
table does not: typically a schema created by hand or inherited from an
earlier deployment mechanism. Re-running migrations there would fail or,
worse, mangle data, so the reconciler stamps the history at the current
head revision instead, after a lightweight column fingerprint check on the
primary table. Stamping is logged loudly as a state-correcting action.

Ambiguous states (some expected tables present, others missing) are a hard
failure. The reconciler never guesses and never touches data to "repair"
a schema.
*/
package migrate
