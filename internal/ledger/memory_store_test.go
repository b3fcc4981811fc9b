package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "Prophet-Chain/internal/errors"
)

type stepClock struct {
	current time.Time
}

func (c *stepClock) now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestMemoryStore() *MemoryStore {
	store := NewMemoryStore()
	clock := &stepClock{current: time.Unix(1_700_000_000, 0)}
	store.now = clock.now
	return store
}

func seed(t *testing.T, store Store, records ...*Record) {
	t.Helper()
	for _, record := range records {
		if err := store.Create(context.Background(), record); err != nil {
			t.Fatalf("create %s: %v", record.Hash, err)
		}
	}
}

func TestMemoryStoreCreateDefaults(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	record := &Record{Hash: "0x01", Purpose: "action", Owner: "0xAbC"}
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "0x01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.MaxAttempts != DefaultMaxAttempts || got.SubmittedAt == 0 {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	if err := store.Create(ctx, &Record{Hash: "0x01"}); !errors.Is(err, ErrTxConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.Create(ctx, &Record{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := store.Get(ctx, "0x02"); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := newTestMemoryStore()
	seed(t, store, &Record{Hash: "0x01"})

	got, _ := store.Get(context.Background(), "0x01")
	got.Status = StatusConfirmed

	again, _ := store.Get(context.Background(), "0x01")
	if again.Status != StatusPending {
		t.Fatalf("store was mutated through returned record")
	}
}

func TestMemoryStoreClaim(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()
	seed(t, store,
		&Record{Hash: "0xpending", MaxAttempts: 2},
		&Record{Hash: "0xconfirmed"},
	)
	if err := store.MarkConfirmed(ctx, "0xconfirmed", "7", 10); err != nil {
		t.Fatalf("mark confirmed: %v", err)
	}

	for i := 1; i <= 2; i++ {
		claimed, err := store.Claim(ctx, "0xpending")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed.Attempts != i {
			t.Fatalf("expected %d attempts, got %d", i, claimed.Attempts)
		}
		if err := store.MarkTimedOut(ctx, "0xpending", "receipt not found"); err != nil {
			t.Fatalf("mark timed out: %v", err)
		}
	}

	if _, err := store.Claim(ctx, "0xpending"); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "0xconfirmed"); !errors.Is(err, ErrTxSettled) {
		t.Fatalf("expected settled, got %v", err)
	}
	if _, err := store.Claim(ctx, "0xmissing"); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreMarkTransitions(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()
	seed(t, store, &Record{Hash: "0x01"}, &Record{Hash: "0x02"}, &Record{Hash: "0x03"})

	if err := store.MarkConfirmed(ctx, "0x01", "42", 100); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := store.MarkReverted(ctx, "0x02", 101, "Invalid oracle"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if err := store.MarkFailed(ctx, "0x03", "RECONCILE_EXHAUSTED", "gave up"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := store.MarkTimedOut(ctx, "0x04", ""); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	confirmed, _ := store.Get(ctx, "0x01")
	if confirmed.Status != StatusConfirmed || confirmed.ResultID != "42" || confirmed.BlockNumber != 100 {
		t.Fatalf("unexpected confirmed record: %+v", confirmed)
	}
	reverted, _ := store.Get(ctx, "0x02")
	if reverted.Status != StatusReverted || reverted.LastError != "Invalid oracle" {
		t.Fatalf("unexpected reverted record: %+v", reverted)
	}
	failed, _ := store.Get(ctx, "0x03")
	if failed.Status != StatusFailed || failed.ErrorCode != "RECONCILE_EXHAUSTED" || !failed.Settled() {
		t.Fatalf("unexpected failed record: %+v", failed)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()
	seed(t, store,
		&Record{Hash: "0xa1", Purpose: "allowance_reset", Owner: "0xAAA", RequestID: "req-1"},
		&Record{Hash: "0xa2", Purpose: "allowance_grant", Owner: "0xAAA", RequestID: "req-1"},
		&Record{Hash: "0xa3", Purpose: "action", Owner: "0xAAA", RequestID: "req-1", Method: "createProphecy"},
		&Record{Hash: "0xb1", Purpose: "action", Owner: "0xBBB", RequestID: "req-2", Method: "createProphecy"},
	)
	if err := store.MarkConfirmed(ctx, "0xa3", "9", 5); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 || all[0].Hash != "0xa3" {
		t.Fatalf("expected most recently updated first, got %+v", all)
	}

	actions, _ := store.List(ctx, BuildListOptions(WithPurposes("action")))
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}

	owned, _ := store.List(ctx, BuildListOptions(WithOwner("0xaaa"), WithStatuses(StatusPending)))
	if len(owned) != 2 {
		t.Fatalf("expected 2 pending records for owner, got %d", len(owned))
	}

	queried, _ := store.List(ctx, BuildListOptions(WithQuery("REQ-2")))
	if len(queried) != 1 || queried[0].Hash != "0xb1" {
		t.Fatalf("unexpected query result: %+v", queried)
	}

	paged, _ := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc), WithLimit(2), WithOffset(1)))
	if len(paged) != 2 || paged[0].Hash != "0xa2" {
		t.Fatalf("unexpected page: %+v", paged)
	}

	beyond, _ := store.List(ctx, BuildListOptions(WithOffset(10)))
	if len(beyond) != 0 {
		t.Fatalf("expected empty page, got %d", len(beyond))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()
	seed(t, store, &Record{Hash: "0x1"}, &Record{Hash: "0x2"}, &Record{Hash: "0x3"}, &Record{Hash: "0x4"})
	_ = store.MarkConfirmed(ctx, "0x1", "1", 1)
	_ = store.MarkReverted(ctx, "0x2", 2, "")
	_ = store.MarkTimedOut(ctx, "0x3", "")

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Confirmed != 1 || stats.Reverted != 1 || stats.TimedOut != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected time range: %+v", stats)
	}

	empty, _ := store.Stats(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if empty.Total != 0 || empty.OldestUpdatedAt != 0 {
		t.Fatalf("expected empty stats, got %+v", empty)
	}
}

func TestBuildListOptionsNormalises(t *testing.T) {
	opts := BuildListOptions(
		WithLimit(500),
		WithOffset(-3),
		WithStatuses("bogus", StatusPending, StatusPending),
		WithPurposes(" action ", "", "action"),
		WithOwner(" 0xABC "),
	)
	if opts.Limit != maxListLimit || opts.Offset != 0 {
		t.Fatalf("unexpected paging: %+v", opts)
	}
	if len(opts.Statuses) != 1 || opts.Statuses[0] != StatusPending {
		t.Fatalf("unexpected statuses: %+v", opts.Statuses)
	}
	if len(opts.Purposes) != 1 || opts.Purposes[0] != "action" {
		t.Fatalf("unexpected purposes: %+v", opts.Purposes)
	}
	if opts.Owner != "0xabc" {
		t.Fatalf("owner not normalised: %q", opts.Owner)
	}
}
