package ledger

import (
	"context"

	xerrors "Prophet-Chain/internal/errors"
)

// Store 抽象了已提交交易的持久化接口。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, hash string) (*Record, error)
	// Claim 为一次对账占用记录并累加尝试次数。
	Claim(ctx context.Context, hash string) (*Record, error)
	MarkConfirmed(ctx context.Context, hash, resultID string, blockNumber uint64) error
	MarkReverted(ctx context.Context, hash string, blockNumber uint64, reason string) error
	MarkTimedOut(ctx context.Context, hash, reason string) error
	MarkFailed(ctx context.Context, hash string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了交易状态的统计信息。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Confirmed       int   `json:"confirmed"`
	Reverted        int   `json:"reverted"`
	TimedOut        int   `json:"timed_out"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(record *Record) {
	s.Total++
	switch record.Status {
	case StatusPending:
		s.Pending++
	case StatusConfirmed:
		s.Confirmed++
	case StatusReverted:
		s.Reverted++
	case StatusTimedOut:
		s.TimedOut++
	case StatusFailed:
		s.Failed++
	}
	if record.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = record.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (record.UpdatedAt != 0 && record.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = record.UpdatedAt
	}
}
