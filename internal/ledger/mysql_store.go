package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "Prophet-Chain/internal/errors"
	storagemysql "Prophet-Chain/internal/storage/mysql"

	"github.com/go-sql-driver/mysql"
)

const recordColumns = `hash, purpose, request_id, owner, contract, method, status, result_id, block_number,
        error_code, last_error, attempts, max_attempts, submitted_at, updated_at`

// MySQLStore 使用 MySQL 持久化交易记录。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 建立连接、执行迁移并返回存储。
func NewMySQLStore(ctx context.Context, cfg storagemysql.Config) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接账本数据库失败")
	}
	if err := storagemysql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行账本迁移失败")
	}
	return NewMySQLStoreWithDB(db), nil
}

// NewMySQLStoreWithDB 基于已有连接池创建存储，不执行迁移。
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Create 插入新的交易记录。
func (s *MySQLStore) Create(ctx context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	prepareRecord(record, s.now().Unix())

	const stmt = `INSERT INTO submitted_transactions
        (` + recordColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.Hash,
		record.Purpose,
		record.RequestID,
		record.Owner,
		record.Contract,
		record.Method,
		string(record.Status),
		record.ResultID,
		record.BlockNumber,
		record.ErrorCode,
		record.LastError,
		record.Attempts,
		record.MaxAttempts,
		record.SubmittedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTxConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易记录失败")
	}
	return nil
}

// Get 查询指定交易。
func (s *MySQLStore) Get(ctx context.Context, hash string) (*Record, error) {
	const stmt = `SELECT ` + recordColumns + ` FROM submitted_transactions WHERE hash = ?`

	record, err := scanRecord(s.db.QueryRowContext(ctx, stmt, hash))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTxNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易记录失败")
	}
	return record, nil
}

// Claim 占用一条待对账的记录。
func (s *MySQLStore) Claim(ctx context.Context, hash string) (*Record, error) {
	const stmt = `UPDATE submitted_transactions SET attempts = attempts + 1, updated_at = ?
        WHERE hash = ? AND status IN (?, ?) AND attempts < max_attempts`

	res, err := s.db.ExecContext(ctx, stmt,
		s.now().Unix(),
		hash,
		string(StatusPending),
		string(StatusTimedOut),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "占用交易记录失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}

	record, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if record.Settled() {
			return record, ErrTxSettled
		}
		return record, ErrRetriesExhausted
	}
	return record, nil
}

// MarkConfirmed 记录成功结果。
func (s *MySQLStore) MarkConfirmed(ctx context.Context, hash, resultID string, blockNumber uint64) error {
	const stmt = `UPDATE submitted_transactions SET status = ?, result_id = ?, block_number = ?, error_code = '', last_error = '',
        updated_at = ? WHERE hash = ?`
	return s.exec(ctx, hash, "标记交易成功失败", stmt, string(StatusConfirmed), resultID, blockNumber, s.now().Unix(), hash)
}

// MarkReverted 记录链上回滚。
func (s *MySQLStore) MarkReverted(ctx context.Context, hash string, blockNumber uint64, reason string) error {
	const stmt = `UPDATE submitted_transactions SET status = ?, block_number = ?, last_error = ?, updated_at = ? WHERE hash = ?`
	return s.exec(ctx, hash, "标记交易回滚失败", stmt, string(StatusReverted), blockNumber, reason, s.now().Unix(), hash)
}

// MarkTimedOut 记录确认超时。
func (s *MySQLStore) MarkTimedOut(ctx context.Context, hash, reason string) error {
	const stmt = `UPDATE submitted_transactions SET status = ?, last_error = ?, updated_at = ? WHERE hash = ?`
	return s.exec(ctx, hash, "标记交易超时失败", stmt, string(StatusTimedOut), reason, s.now().Unix(), hash)
}

// MarkFailed 将记录标记为最终失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, hash string, code xerrors.Code, lastError string) error {
	const stmt = `UPDATE submitted_transactions SET status = ?, error_code = ?, last_error = ?, updated_at = ? WHERE hash = ?`
	return s.exec(ctx, hash, "标记交易失败失败", stmt, string(StatusFailed), string(code), lastError, s.now().Unix(), hash)
}

func (s *MySQLStore) exec(ctx context.Context, hash, failure, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// 值未变化时 MySQL 同样返回 0 行，需要确认记录是否存在。
		_, err := s.Get(ctx, hash)
		return err
	}
	return nil
}

// List 返回符合过滤条件的记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + recordColumns + ` FROM submitted_transactions`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, submitted_at DESC, hash DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, submitted_at ASC, hash ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易记录失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS confirmed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS reverted,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS timed_out,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM submitted_transactions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{
		string(StatusPending),
		string(StatusConfirmed),
		string(StatusReverted),
		string(StatusTimedOut),
		string(StatusFailed),
	}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Confirmed,
		&stats.Reverted,
		&stats.TimedOut,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var status string
	var lastError sql.NullString
	if err := row.Scan(
		&record.Hash,
		&record.Purpose,
		&record.RequestID,
		&record.Owner,
		&record.Contract,
		&record.Method,
		&status,
		&record.ResultID,
		&record.BlockNumber,
		&record.ErrorCode,
		&lastError,
		&record.Attempts,
		&record.MaxAttempts,
		&record.SubmittedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Status = Status(status)
	record.LastError = lastError.String
	return &record, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(opts.Statuses))))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Purposes) > 0 {
		conditions = append(conditions, fmt.Sprintf("purpose IN (%s)", placeholders(len(opts.Purposes))))
		for _, purpose := range opts.Purposes {
			args = append(args, purpose)
		}
	}
	if opts.Owner != "" {
		conditions = append(conditions, "LOWER(owner) = ?")
		args = append(args, opts.Owner)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(hash LIKE ? OR request_id LIKE ? OR method LIKE ? OR result_id LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return strings.Join(marks, ",")
}

var _ Store = (*MySQLStore)(nil)
