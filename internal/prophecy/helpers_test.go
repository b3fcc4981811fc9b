package prophecy

import (
	"context"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"Prophet-Chain/internal/web3"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	prophet  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestMain(m *testing.M) {
	logger.Use(logger.Discard())
	os.Exit(m.Run())
}

func createdRecord(t *testing.T, id int64, sentence string, amount int64, oracleID string, dates ...int64) web3.EventRecord {
	t.Helper()
	unix := make([]*big.Int, 0, len(dates))
	for _, d := range dates {
		unix = append(unix, big.NewInt(d))
	}
	data, err := ProphetABI.Events[createdEvent].Inputs.NonIndexed().Pack(sentence, big.NewInt(amount), oracleID, unix)
	if err != nil {
		t.Fatalf("pack ProphecyCreated: %v", err)
	}
	return web3.EventRecord{
		Emitter: prophet,
		Topics:  []common.Hash{CreatedTopic, common.BytesToHash(owner.Bytes()), common.BigToHash(big.NewInt(id))},
		Data:    data,
	}
}

// fakeChain implements web3.ReadClient and web3.WriteClient.
type fakeChain struct {
	mu sync.Mutex

	balance    *big.Int
	allowances []*big.Int
	reads      int
	decimals   uint8

	submits  []web3.Call
	awaitErr map[string]error
	reverted map[string]bool
	events   []web3.EventRecord
}

func newFakeChain(balance int64, allowances ...int64) *fakeChain {
	f := &fakeChain{
		balance:  big.NewInt(balance),
		awaitErr: map[string]error{},
		reverted: map[string]bool{},
	}
	for _, a := range allowances {
		f.allowances = append(f.allowances, big.NewInt(a))
	}
	return f
}

func (f *fakeChain) ReadBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) ReadAllowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.allowances) == 0 {
		return new(big.Int), nil
	}
	idx := f.reads
	if idx >= len(f.allowances) {
		idx = len(f.allowances) - 1
	}
	f.reads++
	return new(big.Int).Set(f.allowances[idx]), nil
}

func (f *fakeChain) ReadDecimals(context.Context, common.Address) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals == 0 {
		return DefaultDecimals, nil
	}
	return f.decimals, nil
}

func (f *fakeChain) Simulate(context.Context, web3.Call) error { return nil }

func (f *fakeChain) Submit(_ context.Context, call web3.Call) (web3.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, call)
	idx := len(f.submits)
	return web3.TxHandle{
		Hash:        common.BigToHash(big.NewInt(int64(idx))),
		From:        call.From,
		To:          call.To,
		Method:      call.Method,
		Nonce:       uint64(idx - 1),
		SubmittedAt: baseTime,
	}, nil
}

func (f *fakeChain) AwaitConfirmation(_ context.Context, h web3.TxHandle, _ time.Duration) (web3.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.awaitErr[h.Method]; err != nil {
		return web3.Receipt{}, err
	}
	receipt := web3.Receipt{Hash: h.Hash, Status: web3.ReceiptSuccess, BlockNumber: 200}
	if f.reverted[h.Method] {
		receipt.Status = web3.ReceiptReverted
	}
	if h.Method == createMethod {
		receipt.Events = f.events
	}
	return receipt, nil
}

func (f *fakeChain) Submits() []web3.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]web3.Call(nil), f.submits...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}
