package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/web3"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const approveMethod = "approve"

var (
	errReceiptReverted = errors.New("receipt status reverted")
	errEventNotFound   = errors.New("no matching event in receipt")
	errEmptyIdentifier = errors.New("event carried an empty identifier")
)

// Orchestrator drives an allowance-gated action to a terminal outcome:
// validate, check balance, reset and grant the allowance, wait for it to
// become visible, simulate, submit, confirm and extract the result.
type Orchestrator struct {
	reader    web3.ReadClient
	writer    web3.WriteClient
	policy    Policy
	clock     Clock
	observers []Observer
	logger    *slog.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy overrides the default policy. Zero fields keep their defaults,
// so a partially filled Policy still skips approval when the allowance suffices.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p.normalize()
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithObserver registers an observer for submitted transactions.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger sets the logger used for transitions and outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds an orchestrator over the given read and write capabilities.
func New(reader web3.ReadClient, writer web3.WriteClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reader: reader,
		writer: writer,
		policy: DefaultPolicy(),
		clock:  realClock{},
		logger: logger.Named("guard"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// ExecuteOption customises a single Execute call.
type ExecuteOption func(*run)

// WithProgress streams status updates of this call to fn. Updates are
// advisory: a panicking callback is recovered and ignored.
func WithProgress(fn func(Progress)) ExecuteOption {
	return func(r *run) {
		if fn != nil {
			r.progress = append(r.progress, fn)
		}
	}
}

// run holds the state of one Execute call.
type run struct {
	o        *Orchestrator
	ctx      context.Context
	req      Request
	action   Action
	state    State
	progress []func(Progress)
	log      *slog.Logger
	result   Result
}

// Execute runs the guarded flow. Steps are strictly sequential and no failed
// step is retried; already confirmed approvals are left in place. The
// returned Result is populated as far as the flow got, also on error.
func (o *Orchestrator) Execute(ctx context.Context, req Request, action Action, opts ...ExecuteOption) (Result, error) {
	r := &run{
		o:      o,
		ctx:    ctx,
		req:    req,
		action: action,
		state:  StateIdle,
		log: o.logger.With(
			slog.String("owner", req.Owner.Hex()),
			slog.String("contract", action.Contract.Hex()),
			slog.String("method", action.Method),
		),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r.execute()
}

func (r *run) execute() (Result, error) {
	ctx := r.ctx

	r.enter(StateValidatingInput, "Validating input...", common.Hash{})
	precheck, err := validate(r.req, r.action, r.o.clock.Now())
	r.result.Precheck = precheck
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateCheckingBalance, "Checking balance...", common.Hash{})
	balance, err := r.o.reader.ReadBalance(ctx, r.req.Token, r.req.Owner)
	if err != nil {
		return r.fail(chainFailure(StateCheckingBalance, err))
	}
	if balance.Sign() == 0 || balance.Cmp(r.req.Amount) < 0 {
		return r.fail(insufficientFunds(balance, r.req.Amount))
	}
	r.result.Precheck.BalanceSufficient = true

	if !r.o.policy.AlwaysApprove && r.allowanceAlreadySufficient() {
		r.result.ApprovalSkipped = true
		r.log.Debug("allowance already sufficient, skipping approval", slog.String("allowance", r.result.Allowance.Current.String()))
	} else if err := r.approve(); err != nil {
		return r.fail(err)
	}

	call := web3.Call{From: r.req.Owner, To: r.action.Contract, Method: r.action.Method, Args: r.action.Args}

	r.enter(StateSimulating, "Simulating transaction...", common.Hash{})
	if err := r.o.reader.Simulate(ctx, call); err != nil {
		return r.fail(simulationFailed(r.diagnose(ctx, err), err))
	}

	r.enter(StateSubmitting, "Submitting transaction...", common.Hash{})
	handle, err := r.o.writer.Submit(ctx, call)
	if err != nil {
		return r.fail(submissionFailed(err))
	}
	tx := r.submitted(PurposeAction, handle)
	r.result.Action = tx

	r.enter(StateConfirmingAction, "Waiting for transaction completion...", tx.Hash)
	receipt, err := r.o.writer.AwaitConfirmation(ctx, handle, r.o.policy.ConfirmTimeout)
	if err != nil {
		r.settled(tx, Outcome{Kind: OutcomeTimedOut, Reason: err.Error()})
		return r.fail(confirmationTimedOut(tx.Hash, err))
	}
	r.result.Receipt = receipt
	if !receipt.Succeeded() {
		r.settled(tx, Outcome{Kind: OutcomeReverted, Receipt: &receipt, Reason: errReceiptReverted.Error()})
		return r.fail(actionReverted(tx.Hash))
	}

	identifier, err := extract(receipt, r.action.Event)
	if err != nil {
		r.settled(tx, Outcome{Kind: OutcomeConfirmed, Receipt: &receipt, Reason: err.Error()})
		return r.fail(resultEventMissing(tx.Hash, err))
	}
	r.settled(tx, Outcome{Kind: OutcomeConfirmed, Receipt: &receipt, Identifier: identifier})
	r.result.Identifier = identifier

	r.enter(StateSucceeded, "Completed: "+identifier, tx.Hash)
	r.log.Info("guarded action succeeded",
		slog.String("tx_hash", tx.Hash.Hex()),
		slog.String("identifier", identifier),
		slog.Bool("approval_skipped", r.result.ApprovalSkipped),
	)
	return r.result, nil
}

// allowanceAlreadySufficient performs the optional pre-read. A read error is
// treated as "not sufficient" so the regular approval path runs.
func (r *run) allowanceAlreadySufficient() bool {
	current, err := r.o.reader.ReadAllowance(r.ctx, r.req.Token, r.req.Owner, r.req.Spender)
	if err != nil {
		r.log.Warn("allowance pre-read failed", slog.Any("error", err))
		return false
	}
	r.observeAllowance(current)
	return r.result.Allowance.Sufficient()
}

func (r *run) observeAllowance(current *big.Int) {
	r.result.Allowance = AllowanceState{
		Owner:    r.req.Owner,
		Spender:  r.req.Spender,
		Current:  current,
		Required: r.req.Amount,
	}
}

func (r *run) approve() error {
	r.enter(StateResettingAllowance, "Resetting allowance...", common.Hash{})
	reset := web3.Call{From: r.req.Owner, To: r.req.Token, Method: approveMethod, Args: []any{r.req.Spender, new(big.Int)}}
	tx, err := r.confirmApproval(PurposeAllowanceReset, reset, "Waiting for allowance reset transaction...")
	if err != nil {
		return approvalResetFailed(tx.Hash, err)
	}

	r.enter(StateGrantingAllowance, "Approving allowance...", common.Hash{})
	grant := web3.Call{From: r.req.Owner, To: r.req.Token, Method: approveMethod, Args: []any{r.req.Spender, new(big.Int).Set(r.req.Amount)}}
	tx, err = r.confirmApproval(PurposeAllowanceGrant, grant, "Waiting for approval transaction...")
	if err != nil {
		return approvalFailed(tx.Hash, err)
	}

	r.enter(StateConfirmingAllowance, "Confirming allowance...", common.Hash{})
	var (
		last    *big.Int
		lastErr error
	)
	for attempt := 0; attempt <= r.o.policy.AllowanceRetries; attempt++ {
		if err := r.o.clock.Sleep(r.ctx, r.o.policy.SettleDelay); err != nil {
			return allowanceNotObserved(last, r.req.Amount, err)
		}
		current, err := r.o.reader.ReadAllowance(r.ctx, r.req.Token, r.req.Owner, r.req.Spender)
		if err != nil {
			lastErr = err
			r.log.Warn("allowance re-read failed", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}
		last = current
		r.observeAllowance(current)
		if r.result.Allowance.Sufficient() {
			return nil
		}
		r.log.Debug("allowance not yet visible", slog.Int("attempt", attempt), slog.String("allowance", current.String()))
	}
	return allowanceNotObserved(last, r.req.Amount, lastErr)
}

// confirmApproval submits an approval and waits for a successful receipt.
// The returned transaction has a zero hash when nothing was submitted.
func (r *run) confirmApproval(purpose Purpose, call web3.Call, waiting string) (SubmittedTransaction, error) {
	handle, err := r.o.writer.Submit(r.ctx, call)
	if err != nil {
		return SubmittedTransaction{}, err
	}
	tx := r.submitted(purpose, handle)
	r.result.Approvals = append(r.result.Approvals, tx)
	r.emit(waiting, tx.Hash)

	receipt, err := r.o.writer.AwaitConfirmation(r.ctx, handle, r.o.policy.ApprovalTimeout)
	if err != nil {
		r.settled(tx, Outcome{Kind: OutcomeTimedOut, Reason: err.Error()})
		return tx, err
	}
	if !receipt.Succeeded() {
		r.settled(tx, Outcome{Kind: OutcomeReverted, Receipt: &receipt, Reason: errReceiptReverted.Error()})
		return tx, errReceiptReverted
	}
	r.settled(tx, Outcome{Kind: OutcomeConfirmed, Receipt: &receipt})
	return tx, nil
}

func validate(req Request, action Action, now time.Time) (PrecheckResult, error) {
	result := PrecheckResult{
		AmountPositive: req.Amount != nil && req.Amount.Sign() > 0,
		FieldsPresent:  true,
		DatesInFuture:  len(req.Dates) > 0,
	}
	var blank string
	for _, f := range req.Fields {
		if strings.TrimSpace(f.Value) == "" {
			result.FieldsPresent = false
			if blank == "" {
				blank = f.Name
			}
		}
	}
	for _, d := range req.Dates {
		if !d.After(now) {
			result.DatesInFuture = false
		}
	}

	switch {
	case !result.AmountPositive:
		return result, validationFailed("amount")
	case !result.FieldsPresent:
		return result, validationFailed(blank)
	case !result.DatesInFuture:
		return result, validationFailed("target_dates")
	case req.Owner == (common.Address{}):
		return result, validationFailed("owner")
	case req.Token == (common.Address{}) || req.Spender == (common.Address{}):
		return result, validationFailed("contract")
	case action.Contract == (common.Address{}) || action.Method == "" || action.Event.Extract == nil:
		return result, validationFailed("action")
	}
	return result, nil
}

func extract(receipt web3.Receipt, spec EventSpec) (string, error) {
	ev, ok := receipt.FindEvent(spec.Emitter, spec.Topic)
	if !ok {
		return "", errEventNotFound
	}
	id, err := spec.Extract(ev)
	if err != nil {
		return "", fmt.Errorf("extract identifier: %w", err)
	}
	if strings.TrimSpace(id) == "" {
		return "", errEmptyIdentifier
	}
	return id, nil
}

func (r *run) submitted(purpose Purpose, handle web3.TxHandle) SubmittedTransaction {
	tx := SubmittedTransaction{
		Hash:        handle.Hash,
		Purpose:     purpose,
		Contract:    handle.To,
		Method:      handle.Method,
		From:        handle.From,
		Nonce:       handle.Nonce,
		SubmittedAt: handle.SubmittedAt,
	}
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = r.o.clock.Now()
	}
	r.log.Info("transaction submitted", slog.String("purpose", string(purpose)), slog.String("tx_hash", tx.Hash.Hex()))

	// Observers persist the hash; they must see it even if ctx is cancelled.
	ctx := context.WithoutCancel(r.ctx)
	for _, obs := range r.o.observers {
		r.safely("observer.Submitted", func() { obs.Submitted(ctx, tx) })
	}
	return tx
}

func (r *run) settled(tx SubmittedTransaction, outcome Outcome) {
	ctx := context.WithoutCancel(r.ctx)
	for _, obs := range r.o.observers {
		r.safely("observer.Settled", func() { obs.Settled(ctx, tx, outcome) })
	}
}

func (r *run) enter(state State, message string, hash common.Hash) {
	r.log.Debug("transition", slog.String("from", r.state.String()), slog.String("to", state.String()))
	r.state = state
	r.emit(message, hash)
}

func (r *run) emit(message string, hash common.Hash) {
	p := Progress{State: r.state, Message: message, TxHash: hash, At: r.o.clock.Now()}
	for _, fn := range r.progress {
		r.safely("progress", func() { fn(p) })
	}
}

func (r *run) safely(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("callback panicked", slog.String("callback", name), slog.Any("panic", rec))
		}
	}()
	fn()
}

func (r *run) fail(err error) (Result, error) {
	terminal := StateFailed
	if Kind(err) == CodeConfirmationTimedOut {
		terminal = StateTimedOut
	}
	var hash common.Hash
	if h := TxHash(err); h != "" {
		hash = common.HexToHash(h)
	}
	failedAt := r.state
	r.enter(terminal, UserMessage(err), hash)

	attrs := []any{
		slog.String("code", string(Kind(err))),
		slog.String("step", failedAt.String()),
		slog.Any("error", err),
	}
	for k, v := range xerrors.MetadataOf(err) {
		attrs = append(attrs, slog.String(k, v))
	}
	if xerrors.SeverityOf(err) == xerrors.SeverityInfo {
		r.log.Info("guarded action rejected", attrs...)
	} else {
		r.log.Warn("guarded action failed", attrs...)
	}
	return r.result, err
}
