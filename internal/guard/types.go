package guard

import (
	"context"
	"math/big"
	"time"

	"Prophet-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// Field is a named free-text input that must not be blank.
type Field struct {
	Name  string
	Value string
}

// Request carries the funding precondition of a guarded action. It is never
// mutated by the orchestrator.
type Request struct {
	Owner   common.Address
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
	Fields  []Field
	Dates   []time.Time
}

// EventSpec identifies the event that carries the action's result.
type EventSpec struct {
	Emitter common.Address
	Topic   common.Hash
	Extract func(web3.EventRecord) (string, error)
}

// Action is the state-changing call gated behind the allowance.
type Action struct {
	Contract common.Address
	Method   string
	Args     []any
	Event    EventSpec
	// Reasons maps decoded custom error names (or revert strings) to
	// user-presentable messages.
	Reasons map[string]string
}

// State is a step of the orchestration state machine.
type State int

const (
	StateIdle State = iota
	StateValidatingInput
	StateCheckingBalance
	StateResettingAllowance
	StateGrantingAllowance
	StateConfirmingAllowance
	StateSimulating
	StateSubmitting
	StateConfirmingAction
	StateSucceeded
	StateFailed
	StateTimedOut
)

var stateNames = [...]string{
	StateIdle:                "idle",
	StateValidatingInput:     "validating_input",
	StateCheckingBalance:     "checking_balance",
	StateResettingAllowance:  "resetting_allowance",
	StateGrantingAllowance:   "granting_allowance",
	StateConfirmingAllowance: "confirming_allowance",
	StateSimulating:          "simulating",
	StateSubmitting:          "submitting",
	StateConfirmingAction:    "confirming_action",
	StateSucceeded:           "succeeded",
	StateFailed:              "failed",
	StateTimedOut:            "timed_out",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// AllowanceState is a single observation of the owner's allowance.
type AllowanceState struct {
	Owner    common.Address
	Spender  common.Address
	Current  *big.Int
	Required *big.Int
}

// Sufficient reports whether the observed allowance covers the requirement.
func (a AllowanceState) Sufficient() bool {
	return a.Current != nil && a.Required != nil && a.Current.Cmp(a.Required) >= 0
}

// PrecheckResult is recomputed on every Execute call.
type PrecheckResult struct {
	AmountPositive    bool
	FieldsPresent     bool
	DatesInFuture     bool
	BalanceSufficient bool
}

// Purpose tells which step submitted a transaction.
type Purpose string

const (
	PurposeAllowanceReset Purpose = "allowance_reset"
	PurposeAllowanceGrant Purpose = "allowance_grant"
	PurposeAction         Purpose = "action"
)

// SubmittedTransaction is recorded the moment a write is accepted.
type SubmittedTransaction struct {
	Hash        common.Hash
	Purpose     Purpose
	Contract    common.Address
	Method      string
	From        common.Address
	Nonce       uint64
	SubmittedAt time.Time
}

// OutcomeKind enumerates terminal transaction outcomes.
type OutcomeKind string

const (
	OutcomeConfirmed        OutcomeKind = "confirmed"
	OutcomeReverted         OutcomeKind = "reverted"
	OutcomeTimedOut         OutcomeKind = "timed_out"
	OutcomeSubmissionFailed OutcomeKind = "submission_failed"
)

// Outcome is the settled state of a submitted transaction.
type Outcome struct {
	Kind       OutcomeKind
	Receipt    *web3.Receipt
	Identifier string
	Reason     string
}

// Result describes a finished Execute call. It is returned alongside errors
// too, so callers can still see what was submitted.
type Result struct {
	Identifier      string
	Action          SubmittedTransaction
	Receipt         web3.Receipt
	Approvals       []SubmittedTransaction
	ApprovalSkipped bool
	Allowance       AllowanceState
	Precheck        PrecheckResult
}

// Progress is an advisory status update.
type Progress struct {
	State   State
	Message string
	TxHash  common.Hash
	At      time.Time
}

// Observer is notified about every submitted transaction. Implementations
// must not block for long; they run on the orchestrating goroutine.
type Observer interface {
	Submitted(ctx context.Context, tx SubmittedTransaction)
	Settled(ctx context.Context, tx SubmittedTransaction, outcome Outcome)
}

// Clock abstracts time so the settle delay can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
