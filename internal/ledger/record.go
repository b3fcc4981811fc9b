package ledger

import (
	xerrors "Prophet-Chain/internal/errors"
)

// Status 表示已提交交易在账本中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

// DefaultMaxAttempts 是对账的默认尝试次数。
const DefaultMaxAttempts = 10

// Record 记录一笔已被节点接受的交易。
type Record struct {
	Hash        string `json:"hash"`
	Purpose     string `json:"purpose"`
	RequestID   string `json:"request_id,omitempty"`
	Owner       string `json:"owner"`
	Contract    string `json:"contract"`
	Method      string `json:"method,omitempty"`
	Status      Status `json:"status"`
	ResultID    string `json:"result_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	SubmittedAt int64  `json:"submitted_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Settled 表示记录已经有最终结论，不再参与对账。
func (r *Record) Settled() bool {
	switch r.Status {
	case StatusConfirmed, StatusReverted, StatusFailed:
		return true
	default:
		return false
	}
}

const (
	CodeTxNotFound       xerrors.Code = "LEDGER_TX_NOT_FOUND"
	CodeTxConflict       xerrors.Code = "LEDGER_TX_CONFLICT"
	CodeTxSettled        xerrors.Code = "LEDGER_TX_SETTLED"
	CodeRetriesExhausted xerrors.Code = "LEDGER_RETRIES_EXHAUSTED"
)

var (
	// ErrTxNotFound 表示账本中没有该交易。
	ErrTxNotFound = xerrors.New(CodeTxNotFound, "transaction not found")
	// ErrTxConflict 表示交易哈希已经存在。
	ErrTxConflict = xerrors.New(CodeTxConflict, "transaction already recorded", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTxSettled 表示交易已有最终结论。
	ErrTxSettled = xerrors.New(CodeTxSettled, "transaction already settled", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRetriesExhausted 表示对账次数已经用尽。
	ErrRetriesExhausted = xerrors.New(CodeRetriesExhausted, "reconciliation attempts exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

func init() {
	xerrors.Register(CodeTxNotFound, xerrors.Attributes{
		Message:  "transaction not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTxConflict, xerrors.Attributes{
		Message:  "transaction already recorded",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTxSettled, xerrors.Attributes{
		Message:  "transaction already settled",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRetriesExhausted, xerrors.Attributes{
		Message:  "reconciliation attempts exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusReverted, StatusTimedOut, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRecord(record *Record) *Record {
	clone := *record
	return &clone
}
