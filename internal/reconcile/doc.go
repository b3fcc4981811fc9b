// Package reconcile settles transactions whose confirmation wait ran out.
// The orchestrator keeps the hash of every timed-out action; a Reconciler
// re-queries its receipt through a queue (memory, Redis or RabbitMQ) until
// the ledger record is confirmed, reverted or marked failed after the
// configured number of attempts.
package reconcile
