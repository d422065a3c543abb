/*
Package history records finished deployment attempts in a local BoltDB
file, one record per attempt with its full state timeline.

The record is written once, after the attempt reaches a terminal state;
the pipeline never reads history to make decisions, so a lost or deleted
history database only costs audit data.
*/
package history
