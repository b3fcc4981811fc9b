package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"Prophet-Chain/internal/storage/mysql/mysqltest"

	"github.com/go-sql-driver/mysql"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newScriptedStore(t *testing.T, ops ...mysqltest.Operation) *MySQLStore {
	t.Helper()
	db, _ := mysqltest.Open(t, ops...)
	store := NewMySQLStoreWithDB(db)
	store.now = func() time.Time { return fixedNow }
	return store
}

var recordColumnNames = []string{
	"hash", "purpose", "request_id", "owner", "contract", "method", "status", "result_id", "block_number",
	"error_code", "last_error", "attempts", "max_attempts", "submitted_at", "updated_at",
}

func recordRow(hash, status string, attempts, maxAttempts int64) []driver.Value {
	return []driver.Value{
		hash, "action", "req-1", "0xowner", "0xprophet", "createProphecy", status, "", int64(0),
		"", nil, attempts, maxAttempts, fixedNow.Unix(), fixedNow.Unix(),
	}
}

const selectByHash = `SELECT ` + recordColumns + ` FROM submitted_transactions WHERE hash = ?`

func TestMySQLStoreCreate(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Exec(`INSERT INTO submitted_transactions (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mysqltest.Result{RowsAffected: 1}).
			WithArgs("0x01", "action", "req-1", "0xowner", "0xprophet", "createProphecy", "pending", "", int64(0),
				"", "", int64(0), int64(DefaultMaxAttempts), fixedNow.Unix(), fixedNow.Unix()),
	)

	record := &Record{Hash: "0x01", Purpose: "action", RequestID: "req-1", Owner: "0xowner", Contract: "0xprophet", Method: "createProphecy"}
	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.Status != StatusPending || record.UpdatedAt != fixedNow.Unix() {
		t.Fatalf("record not prepared: %+v", record)
	}
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Exec(`INSERT INTO submitted_transactions (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	err := store.Create(context.Background(), &Record{Hash: "0x01"})
	if !errors.Is(err, ErrTxConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreGet(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Query(selectByHash, mysqltest.Rows{Columns: recordColumnNames, Values: [][]driver.Value{recordRow("0x01", "timed_out", 2, 10)}}).
			WithArgs("0x01"),
		mysqltest.Query(selectByHash, mysqltest.Rows{Columns: recordColumnNames}),
	)

	record, err := store.Get(context.Background(), "0x01")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != StatusTimedOut || record.Attempts != 2 || record.LastError != "" {
		t.Fatalf("unexpected record: %+v", record)
	}

	if _, err := store.Get(context.Background(), "0x02"); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreClaim(t *testing.T) {
	t.Parallel()

	const claimSQL = `UPDATE submitted_transactions SET attempts = attempts + 1, updated_at = ?
        WHERE hash = ? AND status IN (?, ?) AND attempts < max_attempts`

	store := newScriptedStore(t,
		mysqltest.Exec(claimSQL, mysqltest.Result{RowsAffected: 1}).WithArgs(fixedNow.Unix(), "0x01", "pending", "timed_out"),
		mysqltest.Query(selectByHash, mysqltest.Rows{Columns: recordColumnNames, Values: [][]driver.Value{recordRow("0x01", "timed_out", 3, 10)}}),
		mysqltest.Exec(claimSQL, mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query(selectByHash, mysqltest.Rows{Columns: recordColumnNames, Values: [][]driver.Value{recordRow("0x02", "confirmed", 1, 10)}}),
		mysqltest.Exec(claimSQL, mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query(selectByHash, mysqltest.Rows{Columns: recordColumnNames, Values: [][]driver.Value{recordRow("0x03", "timed_out", 10, 10)}}),
	)

	ctx := context.Background()
	claimed, err := store.Claim(ctx, "0x01")
	if err != nil || claimed.Attempts != 3 {
		t.Fatalf("unexpected claim: %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "0x02"); !errors.Is(err, ErrTxSettled) {
		t.Fatalf("expected settled, got %v", err)
	}
	if _, err := store.Claim(ctx, "0x03"); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMySQLStoreMarkConfirmedMissingRecord(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Exec(`UPDATE submitted_transactions SET status = ?, result_id = ?, block_number = ?, error_code = '', last_error = '',
        updated_at = ? WHERE hash = ?`, mysqltest.Result{RowsAffected: 0}).
			WithArgs("confirmed", "42", int64(100), fixedNow.Unix(), "0x09"),
		mysqltest.Query(selectByHash, mysqltest.Rows{Columns: recordColumnNames}),
	)

	if err := store.MarkConfirmed(context.Background(), "0x09", "42", 100); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreMarkFailed(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Exec(`UPDATE submitted_transactions SET status = ?, error_code = ?, last_error = ?, updated_at = ? WHERE hash = ?`,
			mysqltest.Result{RowsAffected: 1}).
			WithArgs("failed", "RECONCILE_EXHAUSTED", "gave up", fixedNow.Unix(), "0x01"),
	)
	if err := store.MarkFailed(context.Background(), "0x01", "RECONCILE_EXHAUSTED", "gave up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestMySQLStoreListWithFilters(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Query(`SELECT `+recordColumns+` FROM submitted_transactions
        WHERE status IN (?) AND purpose IN (?) AND LOWER(owner) = ? AND (hash LIKE ? OR request_id LIKE ? OR method LIKE ? OR result_id LIKE ? OR last_error LIKE ?)
        ORDER BY updated_at ASC, submitted_at ASC, hash ASC LIMIT ? OFFSET ?`,
			mysqltest.Rows{Columns: recordColumnNames, Values: [][]driver.Value{
				recordRow("0x01", "pending", 0, 10),
				recordRow("0x02", "pending", 0, 10),
			}}).
			WithArgs("pending", "action", "0xowner", "%req%", "%req%", "%req%", "%req%", "%req%", int64(5), int64(10)),
	)

	records, err := store.List(context.Background(), BuildListOptions(
		WithStatuses(StatusPending),
		WithPurposes("action"),
		WithOwner("0xOWNER"),
		WithQuery("req"),
		WithSortOrder(SortByUpdatedAsc),
		WithLimit(5),
		WithOffset(10),
	))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 || records[1].Hash != "0x02" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestMySQLStoreStats(t *testing.T) {
	t.Parallel()

	store := newScriptedStore(t,
		mysqltest.Query(`SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS confirmed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS reverted,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS timed_out,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM submitted_transactions WHERE purpose IN (?)`,
			mysqltest.Rows{
				Columns: []string{"total", "pending", "confirmed", "reverted", "timed_out", "failed", "oldest", "newest"},
				Values:  [][]driver.Value{{int64(5), int64(1), int64(2), int64(1), int64(1), int64(0), int64(10), int64(20)}},
			}).
			WithArgs("pending", "confirmed", "reverted", "timed_out", "failed", "action"),
	)

	stats, err := store.Stats(context.Background(), BuildListOptions(WithPurposes("action")))
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 5 || stats.Confirmed != 2 || stats.NewestUpdatedAt != 20 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
