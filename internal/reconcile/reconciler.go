package reconcile

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/observability/alerting"
	"Prophet-Chain/internal/observability/metrics"
	"Prophet-Chain/internal/web3"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	CodeReconcileExhausted    xerrors.Code = "RECONCILE_EXHAUSTED"
	CodeReconcileEventMissing xerrors.Code = "RECONCILE_EVENT_MISSING"
)

func init() {
	xerrors.Register(CodeReconcileExhausted, xerrors.Attributes{
		Message:  "transaction never confirmed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeReconcileEventMissing, xerrors.Attributes{
		Message:  "transaction succeeded but no result event was found",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// DefaultRetryDelay 是两次回执查询之间的默认间隔。
const DefaultRetryDelay = 30 * time.Second

// Extractor 从成功回执中提取业务标识，例如预言的 token id。
type Extractor func(record *ledger.Record, receipt web3.Receipt) (string, error)

// Reconciler 负责追踪确认超时的交易，直到得到最终结论。
type Reconciler struct {
	store       ledger.Store
	receipts    web3.ReceiptReader
	consumer    Consumer
	producer    Producer
	extractor   Extractor
	workerCount int
	retryDelay  time.Duration
	alerter     alerting.Dispatcher
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	// delayed 跟踪尚在等待重新投递的协程，Start 返回前需等待其退出。
	delayed sync.WaitGroup
}

// Option 定义可选配置。
type Option func(*Reconciler)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) Option {
	return func(r *Reconciler) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithRetryDelay 设置回执未出现时的重查间隔。
func WithRetryDelay(delay time.Duration) Option {
	return func(r *Reconciler) {
		if delay > 0 {
			r.retryDelay = delay
		}
	}
}

// WithExtractor 配置结果提取逻辑，仅作用于业务动作交易。
func WithExtractor(extractor Extractor) Option {
	return func(r *Reconciler) {
		r.extractor = extractor
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Reconciler) {
		r.alerter = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 构造 Reconciler。
func New(store ledger.Store, receipts web3.ReceiptReader, consumer Consumer, producer Producer, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		receipts:    receipts,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		retryDelay:  DefaultRetryDelay,
		logger:      logger.Named("reconcile"),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start 启动对账循环，直到 ctx 结束。
func (r *Reconciler) Start(ctx context.Context) error {
	if r.consumer == nil || r.store == nil || r.receipts == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "对账器未初始化")
	}
	err := r.consumer.Consume(ctx, r.workerCount, r.Handle)
	r.delayed.Wait()
	return err
}

// Resume 将账本中仍处于超时状态的交易重新投递，用于进程重启后的恢复。
func (r *Reconciler) Resume(ctx context.Context) (int, error) {
	published := 0
	offset := 0
	for {
		records, err := r.store.List(ctx, ledger.BuildListOptions(
			ledger.WithStatuses(ledger.StatusTimedOut),
			ledger.WithSortOrder(ledger.SortByUpdatedAsc),
			ledger.WithLimit(100),
			ledger.WithOffset(offset),
		))
		if err != nil {
			return published, err
		}
		for _, record := range records {
			if err := r.producer.Publish(ctx, record.Hash); err != nil {
				return published, xerrors.Wrap(xerrors.CodeQueueFailure, err, "重新投递超时交易失败")
			}
			published++
		}
		if len(records) < 100 {
			return published, nil
		}
		offset += len(records)
	}
}

// Handle 处理单个交易哈希。
func (r *Reconciler) Handle(ctx context.Context, hash string) error {
	record, err := r.store.Claim(ctx, hash)
	if err != nil {
		switch {
		case stdErrors.Is(err, ledger.ErrTxNotFound), stdErrors.Is(err, ledger.ErrTxSettled):
			r.logger.Debug("跳过对账", slog.String("tx_hash", hash), slog.String("reason", string(xerrors.CodeOf(err))))
			return nil
		case stdErrors.Is(err, ledger.ErrRetriesExhausted):
			return r.giveUp(ctx, record, "attempts exhausted before claim")
		}
		r.logger.Error("占用对账记录失败", slog.Any("error", err), slog.String("tx_hash", hash))
		return err
	}

	receipt, found, err := r.receipts.LookupReceipt(ctx, common.HexToHash(record.Hash))
	if err != nil {
		r.logger.Warn("查询回执失败", slog.Any("error", err), slog.String("tx_hash", hash))
		return r.retry(ctx, record, fmt.Sprintf("receipt lookup failed: %v", err))
	}
	if !found {
		return r.retry(ctx, record, "receipt not found")
	}
	if !receipt.Succeeded() {
		return r.settleReverted(ctx, record, receipt)
	}
	return r.settleConfirmed(ctx, record, receipt)
}

func (r *Reconciler) settleConfirmed(ctx context.Context, record *ledger.Record, receipt web3.Receipt) error {
	resultID := ""
	if r.extractor != nil {
		id, err := r.extractor(record, receipt)
		if err != nil {
			wrapped := xerrors.Wrap(CodeReconcileEventMissing, err, "", xerrors.WithMetadata("tx_hash", record.Hash))
			if markErr := r.store.MarkFailed(ctx, record.Hash, CodeReconcileEventMissing, err.Error()); markErr != nil {
				return markErr
			}
			r.audit(record, "failed", slog.String("error_code", string(CodeReconcileEventMissing)))
			metrics.ObserveReconcile("event_missing")
			metrics.ObserveSettlement(record.Purpose, "failed")
			r.emitAlert(ctx, record, wrapped, "event_missing")
			return nil
		}
		resultID = id
	}
	if err := r.store.MarkConfirmed(ctx, record.Hash, resultID, receipt.BlockNumber); err != nil {
		return err
	}
	r.audit(record, "confirmed",
		slog.String("result_id", resultID),
		slog.Uint64("block_number", receipt.BlockNumber),
	)
	metrics.ObserveReconcile("confirmed")
	metrics.ObserveSettlement(record.Purpose, "confirmed")
	return nil
}

func (r *Reconciler) settleReverted(ctx context.Context, record *ledger.Record, receipt web3.Receipt) error {
	if err := r.store.MarkReverted(ctx, record.Hash, receipt.BlockNumber, "reverted on chain"); err != nil {
		return err
	}
	r.audit(record, "reverted", slog.Uint64("block_number", receipt.BlockNumber))
	metrics.ObserveReconcile("reverted")
	metrics.ObserveSettlement(record.Purpose, "reverted")
	return nil
}

// retry 记录本次未果，在尝试次数允许时安排延迟重新投递。
// 等待发生在独立协程中，消费协程立即返回处理下一条消息。
func (r *Reconciler) retry(ctx context.Context, record *ledger.Record, reason string) error {
	if record.Attempts >= record.MaxAttempts {
		return r.giveUp(ctx, record, reason)
	}
	if err := r.store.MarkTimedOut(ctx, record.Hash, reason); err != nil {
		return err
	}
	metrics.ObserveReconcile("pending")
	r.logger.Debug("交易尚未确认，稍后重试",
		slog.String("tx_hash", record.Hash),
		slog.Int("attempts", record.Attempts),
		slog.Int("max_attempts", record.MaxAttempts),
	)
	r.delayed.Add(1)
	go func(hash string) {
		defer r.delayed.Done()
		r.republish(ctx, hash)
	}(record.Hash)
	return nil
}

func (r *Reconciler) republish(ctx context.Context, hash string) {
	if err := r.sleep(ctx, r.retryDelay); err != nil {
		// 进程退出时记录保持 timed_out，由 Resume 接续。
		return
	}
	if err := r.producer.Publish(ctx, hash); err != nil {
		if ctx.Err() != nil {
			return
		}
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, "重新投递对账任务失败", xerrors.WithMetadata("tx_hash", hash))
		r.logger.Error("重新投递对账任务失败，等待 Resume 接续", slog.Any("error", wrapped), slog.String("tx_hash", hash))
	}
}

func (r *Reconciler) giveUp(ctx context.Context, record *ledger.Record, reason string) error {
	if record == nil {
		return nil
	}
	if err := r.store.MarkFailed(ctx, record.Hash, CodeReconcileExhausted, reason); err != nil {
		return err
	}
	r.audit(record, "failed", slog.String("error_code", string(CodeReconcileExhausted)), slog.String("reason", reason))
	metrics.ObserveReconcile("exhausted")
	metrics.ObserveSettlement(record.Purpose, "failed")
	r.emitAlert(ctx, record, xerrors.New(CodeReconcileExhausted, "", xerrors.WithMetadata("tx_hash", record.Hash)), "exhausted")
	return nil
}

func (r *Reconciler) audit(record *ledger.Record, outcome string, attrs ...any) {
	base := []any{
		slog.String("tx_hash", record.Hash),
		slog.String("purpose", record.Purpose),
		slog.String("owner", record.Owner),
		slog.String("request_id", record.RequestID),
		slog.String("outcome", outcome),
		slog.Int("attempts", record.Attempts),
	}
	logger.Audit().Info("对账完成", append(base, attrs...)...)
}

func (r *Reconciler) emitAlert(ctx context.Context, record *ledger.Record, cause error, stage string) {
	if r.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.EventFromError(cause, stage)
	event.TxHash = record.Hash
	event.Purpose = record.Purpose
	event.Owner = record.Owner
	event.Attempts = record.Attempts
	event.MaxAttempts = record.MaxAttempts
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败", slog.Any("error", err), slog.String("tx_hash", record.Hash), slog.String("stage", stage))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
