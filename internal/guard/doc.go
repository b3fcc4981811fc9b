// Package guard implements the guarded transaction orchestrator.
//
// An Execute call moves through
//
//	idle → validating_input → checking_balance → resetting_allowance →
//	granting_allowance → confirming_allowance → simulating → submitting →
//	confirming_action → succeeded | failed | timed_out
//
// without loops, except for the bounded allowance re-read after the grant.
// Any failure is terminal and classified into one of the codes registered in
// errors.go. Confirmed approvals are never rolled back; calling Execute again
// is the recovery path.
//
// The allowance and balance live on a shared ledger other actors can change
// between any two steps. The orchestrator narrows that window with the
// post-grant re-read and the dry run but cannot close it.
package guard
