// Package ledger retains every transaction the orchestrator got accepted by a
// node, keyed by hash, together with its settlement. Timed-out records stay
// claimable until the reconciler confirms, reverts or gives up on them.
package ledger
