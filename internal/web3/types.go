package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrConfirmationTimeout is returned by AwaitConfirmation when no receipt was
// observed before the deadline. The transaction may still be mined later.
var ErrConfirmationTimeout = errors.New("web3: confirmation timed out")

// Call identifies a contract function invocation. Method and Args are resolved
// against the ABI bound to To by the client implementation.
type Call struct {
	From   common.Address
	To     common.Address
	Method string
	Args   []any
}

// TxHandle is returned the instant a write is accepted by the node.
type TxHandle struct {
	Hash        common.Hash
	From        common.Address
	To          common.Address
	Method      string
	Nonce       uint64
	SubmittedAt time.Time
}

// ReceiptStatus mirrors the execution status flag of a mined transaction.
type ReceiptStatus int

const (
	ReceiptReverted ReceiptStatus = iota
	ReceiptSuccess
)

func (s ReceiptStatus) String() string {
	if s == ReceiptSuccess {
		return "success"
	}
	return "reverted"
}

// EventRecord is a log entry emitted while executing a transaction.
type EventRecord struct {
	Emitter common.Address
	Topics  []common.Hash
	Data    []byte
	Index   uint
}

// Receipt summarises a mined transaction.
type Receipt struct {
	Hash        common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     uint64
	Events      []EventRecord
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == ReceiptSuccess
}

// FindEvent returns the first record emitted by emitter whose first topic is topic.
func (r Receipt) FindEvent(emitter common.Address, topic common.Hash) (EventRecord, bool) {
	for _, ev := range r.Events {
		if ev.Emitter != emitter || len(ev.Topics) == 0 {
			continue
		}
		if ev.Topics[0] == topic {
			return ev, true
		}
	}
	return EventRecord{}, false
}

// RevertError describes why a simulated call failed. Name is set when the
// revert data matched a custom error in the bound ABI; Reason is set for the
// standard Error(string) payload; Message keeps the provider text.
type RevertError struct {
	Name    string
	Reason  string
	Args    []any
	Data    []byte
	Message string
}

func (e *RevertError) Error() string {
	switch {
	case e.Name != "":
		return "execution reverted: " + e.Name
	case e.Reason != "":
		return "execution reverted: " + e.Reason
	case e.Message != "":
		return e.Message
	default:
		return "execution reverted"
	}
}

// Selector returns the 4-byte error selector of the revert data, if any.
func (e *RevertError) Selector() string {
	if len(e.Data) < 4 {
		return ""
	}
	return fmt.Sprintf("0x%x", e.Data[:4])
}

// ReadClient covers the read-only capabilities the orchestrator needs.
type ReadClient interface {
	ReadBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	// Simulate executes call against current state without committing it. A
	// revert is reported as *RevertError; any other error is a transport failure.
	Simulate(ctx context.Context, call Call) error
}

// WriteClient submits signed state-changing calls and waits for them.
type WriteClient interface {
	Submit(ctx context.Context, call Call) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Receipt, error)
}

// ReceiptReader looks up the receipt of an earlier submission.
type ReceiptReader interface {
	LookupReceipt(ctx context.Context, hash common.Hash) (Receipt, bool, error)
}

// Client is the full chain capability set implemented by network adapters.
type Client interface {
	ReadClient
	WriteClient
	ReceiptReader
	Close()
}

// ParseHash validates a 0x-prefixed 32-byte hex hash.
func ParseHash(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") || len(raw) != 66 {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", raw)
	}
	for _, c := range raw[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return common.Hash{}, fmt.Errorf("invalid transaction hash %q", raw)
		}
	}
	return common.HexToHash(raw), nil
}
