package prophecy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/observability/alerting"
	"Prophet-Chain/internal/observability/metrics"
	"Prophet-Chain/internal/oracle"
	"Prophet-Chain/internal/reconcile"
	"Prophet-Chain/internal/web3"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PurposeFaucet marks faucet calls in the ledger.
const PurposeFaucet guard.Purpose = "faucet"

// Contracts locates the stake token and the prophecy contract.
type Contracts struct {
	Token    common.Address
	Prophet  common.Address
	Decimals uint8
}

// Funds is a snapshot of an owner's stake token position.
type Funds struct {
	Balance   *big.Int `json:"balance"`
	Allowance *big.Int `json:"allowance"`
	Decimals  uint8    `json:"decimals"`
}

type decimalsReader interface {
	ReadDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// Service creates prophecies through the guarded orchestrator and keeps
// every submitted transaction in the ledger.
type Service struct {
	reader    web3.ReadClient
	writer    web3.WriteClient
	contracts Contracts

	orchestrator *guard.Orchestrator
	guardOpts    []guard.Option
	policy       guard.Policy

	store       ledger.Store
	producer    reconcile.Producer
	catalog     oracle.Catalog
	alerter     alerting.Dispatcher
	maxAttempts int
	logger      *slog.Logger

	locks ownerLocks
}

// Option customises a Service.
type Option func(*Service)

// WithStore sets the ledger. The default is an in-memory store.
func WithStore(store ledger.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithProducer sets the queue timed-out hashes are published to.
func WithProducer(producer reconcile.Producer) Option {
	return func(s *Service) {
		s.producer = producer
	}
}

// WithCatalog enables oracle id validation.
func WithCatalog(catalog oracle.Catalog) Option {
	return func(s *Service) {
		s.catalog = catalog
	}
}

// WithAlertDispatcher routes alert-worthy failures.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerter = dispatcher
	}
}

// WithPolicy overrides the orchestrator policy.
func WithPolicy(policy guard.Policy) Option {
	return func(s *Service) {
		s.guardOpts = append(s.guardOpts, guard.WithPolicy(policy))
	}
}

// WithClock replaces the orchestrator clock.
func WithClock(clock guard.Clock) Option {
	return func(s *Service) {
		s.guardOpts = append(s.guardOpts, guard.WithClock(clock))
	}
}

// WithMaxAttempts bounds reconciliation of new ledger records.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the orchestrator with the ledger observer.
func NewService(reader web3.ReadClient, writer web3.WriteClient, contracts Contracts, opts ...Option) *Service {
	if contracts.Decimals == 0 {
		contracts.Decimals = DefaultDecimals
	}
	s := &Service{
		reader:      reader,
		writer:      writer,
		contracts:   contracts,
		store:       ledger.NewMemoryStore(),
		maxAttempts: ledger.DefaultMaxAttempts,
		logger:      logger.Named("prophecy"),
		locks:       ownerLocks{locks: make(map[common.Address]*ownerLock)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	guardOpts := append([]guard.Option{
		guard.WithObserver(&ledgerObserver{s: s}),
		guard.WithLogger(s.logger.With(slog.String("component", "guard"))),
	}, s.guardOpts...)
	s.orchestrator = guard.New(reader, writer, guardOpts...)
	s.policy = s.orchestrator.Policy()
	return s
}

// CreateOption customises a single Create call.
type CreateOption func(*createCall)

type createCall struct {
	progress []func(guard.Progress)
}

// WithProgress streams the status copy of this call to fn.
func WithProgress(fn func(guard.Progress)) CreateOption {
	return func(c *createCall) {
		if fn != nil {
			c.progress = append(c.progress, fn)
		}
	}
}

// Create mints a prophecy for owner. Flows of the same owner run one at a
// time so that one flow's allowance reset cannot undercut another's grant.
// On error the returned value still carries the request id and, once
// submitted, the action hash.
func (s *Service) Create(ctx context.Context, owner common.Address, in Input, opts ...CreateOption) (Created, error) {
	call := &createCall{}
	for _, opt := range opts {
		if opt != nil {
			opt(call)
		}
	}

	requestID := uuid.NewString()
	out := Created{Owner: owner, RequestID: requestID}
	log := s.logger.With(slog.String("request_id", requestID), slog.String("owner", owner.Hex()))
	ctx = logger.IntoContext(withRequestID(ctx, requestID), log)

	p, err := prepare(in, s.contracts.Decimals, s.catalog)
	if err != nil {
		s.finish(ctx, out, err)
		return out, err
	}

	release, err := s.locks.acquire(ctx, owner)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeTimeout, err, "等待同一账户的上一笔预言完成时中断")
		s.finish(ctx, out, err)
		return out, err
	}
	defer release()

	req := guard.Request{
		Owner:   owner,
		Token:   s.contracts.Token,
		Spender: s.contracts.Prophet,
		Amount:  p.amount,
		Fields: []guard.Field{
			{Name: "sentence", Value: p.sentence},
			{Name: "oracle", Value: p.oracle},
		},
		Dates: p.dates,
	}
	action := guard.Action{
		Contract: s.contracts.Prophet,
		Method:   createMethod,
		Args:     []any{p.sentence, p.amount, p.oracle, p.unix},
		Event:    eventSpec(s.contracts.Prophet),
		Reasons:  Reasons(),
	}

	result, err := s.orchestrator.Execute(ctx, req, action, guard.WithProgress(func(update guard.Progress) {
		update.Message = progressCopy(update)
		for _, fn := range call.progress {
			fn(update)
		}
	}))
	out.TxHash = result.Action.Hash
	out.ApprovalSkipped = result.ApprovalSkipped
	if err != nil {
		s.finish(ctx, out, err)
		return out, err
	}

	out.TokenID = result.Identifier
	if ev, ok := result.Receipt.FindEvent(s.contracts.Prophet, CreatedTopic); ok {
		if decoded, derr := DecodeCreated(ev); derr == nil {
			decoded.TxHash, decoded.RequestID, decoded.ApprovalSkipped = out.TxHash, requestID, out.ApprovalSkipped
			out = decoded
		} else {
			log.Warn("decode ProphecyCreated failed", slog.Any("error", derr))
		}
	}
	s.finish(ctx, out, nil)
	return out, nil
}

// progressCopy maps orchestrator states to the stake-token wording.
func progressCopy(p guard.Progress) string {
	switch p.State {
	case guard.StateGrantingAllowance:
		if p.TxHash == (common.Hash{}) {
			return "Approving USDC..."
		}
	case guard.StateSubmitting:
		return "Creating prophecy..."
	case guard.StateSucceeded:
		return "Prophecy created! Token ID: " + strings.TrimPrefix(p.Message, "Completed: ")
	}
	return p.Message
}

func (s *Service) finish(ctx context.Context, out Created, err error) {
	log := logger.FromContext(ctx)
	if err == nil {
		metrics.ObserveGuardOutcome("succeeded", "")
		log.Info("prophecy created", slog.String("token_id", out.TokenID), slog.String("tx_hash", out.TxHash.Hex()))
		return
	}

	code := guard.Kind(err)
	outcome := "failed"
	if code == guard.CodeConfirmationTimedOut {
		outcome = "timed_out"
	}
	metrics.ObserveGuardOutcome(outcome, string(code))
	log.Warn("prophecy not created", slog.String("code", string(code)), slog.String("message", guard.UserMessage(err)), slog.Any("error", err))

	if s.alerter == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.EventFromError(err, "create")
	event.TxHash = guard.TxHash(err)
	event.Purpose = string(guard.PurposeAction)
	event.Owner = strings.ToLower(out.Owner.Hex())
	if nerr := s.alerter.Notify(context.WithoutCancel(ctx), event); nerr != nil {
		log.Error("告警通知失败", slog.Any("error", nerr))
	}
}

// Balance reads the owner's stake token balance and the allowance granted to
// the prophecy contract.
func (s *Service) Balance(ctx context.Context, owner common.Address) (Funds, error) {
	balance, err := s.reader.ReadBalance(ctx, s.contracts.Token, owner)
	if err != nil {
		return Funds{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取余额失败")
	}
	allowance, err := s.reader.ReadAllowance(ctx, s.contracts.Token, owner, s.contracts.Prophet)
	if err != nil {
		return Funds{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取授权额度失败")
	}
	funds := Funds{Balance: balance, Allowance: allowance, Decimals: s.contracts.Decimals}
	if dr, ok := s.reader.(decimalsReader); ok {
		if decimals, derr := dr.ReadDecimals(ctx, s.contracts.Token); derr == nil {
			funds.Decimals = decimals
		}
	}
	return funds, nil
}

// Faucet calls the test token faucet for owner and waits for the receipt.
func (s *Service) Faucet(ctx context.Context, owner common.Address) (common.Hash, error) {
	release, err := s.locks.acquire(ctx, owner)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTimeout, err, "等待同一账户的上一笔交易完成时中断")
	}
	defer release()

	obs := &ledgerObserver{s: s}
	ctx = withRequestID(ctx, uuid.NewString())
	handle, err := s.writer.Submit(ctx, web3.Call{From: owner, To: s.contracts.Token, Method: faucetMethod})
	if err != nil {
		return common.Hash{}, xerrors.Wrap(guard.CodeSubmissionFailed, err, "")
	}
	tx := guard.SubmittedTransaction{
		Hash:        handle.Hash,
		Purpose:     PurposeFaucet,
		Contract:    handle.To,
		Method:      handle.Method,
		From:        handle.From,
		Nonce:       handle.Nonce,
		SubmittedAt: handle.SubmittedAt,
	}
	obs.Submitted(context.WithoutCancel(ctx), tx)

	receipt, err := s.writer.AwaitConfirmation(ctx, handle, s.policy.ConfirmTimeout)
	if err != nil {
		obs.Settled(context.WithoutCancel(ctx), tx, guard.Outcome{Kind: guard.OutcomeTimedOut, Reason: err.Error()})
		return handle.Hash, xerrors.Wrap(guard.CodeConfirmationTimedOut, err, "", xerrors.WithMetadata(guard.MetaTxHash, handle.Hash.Hex()))
	}
	if !receipt.Succeeded() {
		obs.Settled(context.WithoutCancel(ctx), tx, guard.Outcome{Kind: guard.OutcomeReverted, Receipt: &receipt, Reason: "receipt status reverted"})
		return handle.Hash, xerrors.New(guard.CodeActionReverted, "", xerrors.WithMetadata(guard.MetaTxHash, handle.Hash.Hex()))
	}
	obs.Settled(context.WithoutCancel(ctx), tx, guard.Outcome{Kind: guard.OutcomeConfirmed, Receipt: &receipt})
	return handle.Hash, nil
}

// Transaction returns the ledger record of hash.
func (s *Service) Transaction(ctx context.Context, hash string) (*ledger.Record, error) {
	parsed, err := web3.ParseHash(hash)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易哈希格式错误", xerrors.WithMetadata(guard.MetaField, "hash"))
	}
	return s.store.Get(ctx, parsed.Hex())
}

// Transactions lists ledger records.
func (s *Service) Transactions(ctx context.Context, opts ...ledger.ListOption) ([]*ledger.Record, error) {
	return s.store.List(ctx, ledger.BuildListOptions(opts...))
}

// Stats aggregates ledger records matching opts.
func (s *Service) Stats(ctx context.Context, opts ...ledger.ListOption) (ledger.Stats, error) {
	return s.store.Stats(ctx, ledger.BuildListOptions(opts...))
}

// Oracles lists the oracle catalog.
func (s *Service) Oracles() []oracle.Oracle {
	if s.catalog == nil {
		return oracle.Defaults()
	}
	return s.catalog.List()
}

// Contracts returns the addresses the service operates on.
func (s *Service) Contracts() Contracts {
	return s.contracts
}

// Extractor returns the reconcile extractor for this service's contract.
func (s *Service) Extractor() reconcile.Extractor {
	return Extractor(s.contracts.Prophet)
}

// ledgerObserver persists every submission and its settlement.
type ledgerObserver struct {
	s *Service
}

func (o *ledgerObserver) Submitted(ctx context.Context, tx guard.SubmittedTransaction) {
	s := o.s
	record := &ledger.Record{
		Hash:        tx.Hash.Hex(),
		Purpose:     string(tx.Purpose),
		RequestID:   requestIDFrom(ctx),
		Owner:       strings.ToLower(tx.From.Hex()),
		Contract:    tx.Contract.Hex(),
		Method:      tx.Method,
		MaxAttempts: s.maxAttempts,
	}
	if !tx.SubmittedAt.IsZero() {
		record.SubmittedAt = tx.SubmittedAt.Unix()
	}
	metrics.ObserveSubmission(record.Purpose)
	if err := s.store.Create(ctx, record); err != nil {
		s.logger.Error("写入交易账本失败", slog.Any("error", err), slog.String("tx_hash", record.Hash))
	}
}

func (o *ledgerObserver) Settled(ctx context.Context, tx guard.SubmittedTransaction, outcome guard.Outcome) {
	s := o.s
	hash := tx.Hash.Hex()
	var block uint64
	if outcome.Receipt != nil {
		block = outcome.Receipt.BlockNumber
	}

	status := string(outcome.Kind)
	var err error
	switch outcome.Kind {
	case guard.OutcomeConfirmed:
		if tx.Purpose == guard.PurposeAction && outcome.Identifier == "" {
			status = string(ledger.StatusFailed)
			err = s.store.MarkFailed(ctx, hash, guard.CodeResultEventMissing, outcome.Reason)
		} else {
			err = s.store.MarkConfirmed(ctx, hash, outcome.Identifier, block)
		}
	case guard.OutcomeReverted:
		err = s.store.MarkReverted(ctx, hash, block, outcome.Reason)
	case guard.OutcomeTimedOut:
		err = s.store.MarkTimedOut(ctx, hash, outcome.Reason)
		if err == nil {
			s.publish(ctx, hash)
		}
	default:
		status = string(ledger.StatusFailed)
		err = s.store.MarkFailed(ctx, hash, guard.CodeSubmissionFailed, outcome.Reason)
	}
	if err != nil {
		s.logger.Error("更新交易账本失败", slog.Any("error", err), slog.String("tx_hash", hash), slog.String("outcome", string(outcome.Kind)))
	}

	metrics.ObserveSettlement(string(tx.Purpose), status)
	logger.Audit().Info("交易已结算",
		slog.String("tx_hash", hash),
		slog.String("purpose", string(tx.Purpose)),
		slog.String("owner", strings.ToLower(tx.From.Hex())),
		slog.String("request_id", requestIDFrom(ctx)),
		slog.String("outcome", status),
		slog.String("result_id", outcome.Identifier),
		slog.Uint64("block_number", block),
	)
}

func (s *Service) publish(ctx context.Context, hash string) {
	if s.producer == nil {
		s.logger.Warn("未配置对账队列，超时交易仅保留在账本中", slog.String("tx_hash", hash))
		return
	}
	if err := s.producer.Publish(ctx, hash); err != nil {
		s.logger.Error("投递对账任务失败", slog.Any("error", err), slog.String("tx_hash", hash))
	}
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ownerLocks serialises flows per owner. Entries are dropped once unused.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*ownerLock
}

type ownerLock struct {
	sem  chan struct{}
	refs int
}

func (l *ownerLocks) acquire(ctx context.Context, owner common.Address) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[owner]
	if !ok {
		lock = &ownerLock{sem: make(chan struct{}, 1)}
		l.locks[owner] = lock
	}
	lock.refs++
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		drop()
		return nil, fmt.Errorf("owner %s busy: %w", owner.Hex(), ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			drop()
		})
	}, nil
}

// IsTimeout reports whether err left a transaction pending on chain.
func IsTimeout(err error) bool {
	return guard.Kind(err) == guard.CodeConfirmationTimedOut
}
