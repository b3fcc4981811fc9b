package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "Prophet-Chain/internal/errors"
)

// MemoryStore 以内存方式保存交易记录，用于开发与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.Hash]; ok {
		return ErrTxConflict
	}
	prepareRecord(record, m.now().Unix())
	m.records[record.Hash] = cloneRecord(record)
	return nil
}

// Get 返回交易记录。
func (m *MemoryStore) Get(_ context.Context, hash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[hash]
	if !ok {
		return nil, ErrTxNotFound
	}
	return cloneRecord(record), nil
}

// Claim 占用一条待对账的记录。
func (m *MemoryStore) Claim(_ context.Context, hash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[hash]
	if !ok {
		return nil, ErrTxNotFound
	}
	if record.Settled() {
		return cloneRecord(record), ErrTxSettled
	}
	if record.Attempts >= record.MaxAttempts {
		return cloneRecord(record), ErrRetriesExhausted
	}
	record.Attempts++
	record.UpdatedAt = m.now().Unix()
	return cloneRecord(record), nil
}

// MarkConfirmed 记录成功结果。
func (m *MemoryStore) MarkConfirmed(_ context.Context, hash, resultID string, blockNumber uint64) error {
	return m.update(hash, func(record *Record) {
		record.Status = StatusConfirmed
		record.ResultID = resultID
		record.BlockNumber = blockNumber
		record.ErrorCode = ""
		record.LastError = ""
	})
}

// MarkReverted 记录链上回滚。
func (m *MemoryStore) MarkReverted(_ context.Context, hash string, blockNumber uint64, reason string) error {
	return m.update(hash, func(record *Record) {
		record.Status = StatusReverted
		record.BlockNumber = blockNumber
		record.LastError = reason
	})
}

// MarkTimedOut 记录确认超时，交易仍可能上链。
func (m *MemoryStore) MarkTimedOut(_ context.Context, hash, reason string) error {
	return m.update(hash, func(record *Record) {
		record.Status = StatusTimedOut
		record.LastError = reason
	})
}

// MarkFailed 将记录标记为最终失败。
func (m *MemoryStore) MarkFailed(_ context.Context, hash string, code xerrors.Code, lastError string) error {
	return m.update(hash, func(record *Record) {
		record.Status = StatusFailed
		record.ErrorCode = string(code)
		record.LastError = lastError
	})
}

func (m *MemoryStore) update(hash string, mutate func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[hash]
	if !ok {
		return ErrTxNotFound
	}
	mutate(record)
	record.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合过滤条件的记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		if matchesListFilters(record, opts) {
			results = append(results, cloneRecord(record))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.SubmittedAt == b.SubmittedAt {
					return a.Hash < b.Hash
				}
				return a.SubmittedAt < b.SubmittedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.SubmittedAt == b.SubmittedAt {
				return a.Hash > b.Hash
			}
			return a.SubmittedAt > b.SubmittedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Record{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的记录。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	var stats Stats
	for _, record := range m.records {
		if matchesListFilters(record, opts) {
			stats.add(record)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(record *Record, opts ListOptions) bool {
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, record.Status) {
		return false
	}
	if len(opts.Purposes) > 0 && !containsString(opts.Purposes, record.Purpose) {
		return false
	}
	if opts.Owner != "" && !strings.EqualFold(opts.Owner, record.Owner) {
		return false
	}
	if opts.UpdatedGTE > 0 && record.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && record.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" {
		query := strings.ToLower(opts.Query)
		fields := []string{record.Hash, record.RequestID, record.Method, record.ResultID, record.LastError}
		matched := false
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), query) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsStatus(values []Status, target Status) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func validateRecord(record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易记录不能为空")
	}
	if strings.TrimSpace(record.Hash) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	if record.Status != "" && !IsValidStatus(record.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的交易状态", xerrors.WithMetadata("status", string(record.Status)))
	}
	return nil
}

func prepareRecord(record *Record, now int64) {
	if record.Status == "" {
		record.Status = StatusPending
	}
	if record.MaxAttempts <= 0 {
		record.MaxAttempts = DefaultMaxAttempts
	}
	if record.SubmittedAt == 0 {
		record.SubmittedAt = now
	}
	record.UpdatedAt = now
}

var _ Store = (*MemoryStore)(nil)
