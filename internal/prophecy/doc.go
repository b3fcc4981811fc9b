// Package prophecy binds the guarded orchestrator to the prophecy contract:
// input conversion, ABIs, ProphecyCreated decoding and the revert reason
// copy. Service adds the ledger, reconciliation hand-off and per-owner
// serialisation on top.
package prophecy
