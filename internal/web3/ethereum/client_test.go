package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"Prophet-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"error","name":"ERC20InsufficientBalance","inputs":[{"name":"sender","type":"address"},{"name":"balance","type":"uint256"},{"name":"needed","type":"uint256"}]}
]`

const actionABI = `[
 {"type":"function","name":"create","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"error","name":"InvalidOracle","inputs":[]}
]`

var (
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	actionAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type rpcDataError struct {
	msg  string
	data any
}

func (e *rpcDataError) Error() string  { return e.msg }
func (e *rpcDataError) ErrorData() any { return e.data }

type fakeBackend struct {
	mu       sync.Mutex
	call     func(msg gethcore.CallMsg) ([]byte, error)
	estimate func(msg gethcore.CallMsg) (uint64, error)
	baseFee  *big.Int
	nonce    uint64
	sent     []*coretypes.Transaction
	receipts map[common.Hash]*coretypes.Receipt
	lookups  int
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	return f.call(msg)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return f.estimate(msg)
	}
	return 50_000, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{Number: big.NewInt(10), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, gethcore.NotFound
}

func newTestClient(t *testing.T, backend *fakeBackend) (*Client, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client, err := NewClientWithBackend(Config{Name: "test", PollInterval: 5 * time.Millisecond}, backend, big.NewInt(1337), key)
	require.NoError(t, err)

	token, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	action, err := abi.JSON(strings.NewReader(actionABI))
	require.NoError(t, err)
	client.Bind(tokenAddr, token)
	client.Bind(actionAddr, action)
	return client, crypto.PubkeyToAddress(key.PublicKey)
}

func TestReadBalanceAndAllowance(t *testing.T) {
	token, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	owner := common.HexToAddress("0x0000000000000000000000000000000000000001")
	spender := common.HexToAddress("0x0000000000000000000000000000000000000002")

	backend := &fakeBackend{call: func(msg gethcore.CallMsg) ([]byte, error) {
		method, err := token.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		switch method.Name {
		case "balanceOf":
			return method.Outputs.Pack(big.NewInt(1000))
		case "allowance":
			return method.Outputs.Pack(big.NewInt(250))
		}
		return nil, errors.New("unexpected method")
	}}
	client, _ := newTestClient(t, backend)

	balance, err := client.ReadBalance(context.Background(), tokenAddr, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Int64())

	allowance, err := client.ReadAllowance(context.Background(), tokenAddr, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(250), allowance.Int64())
}

func TestReadFailsForUnboundContract(t *testing.T) {
	client, _ := newTestClient(t, &fakeBackend{})
	_, err := client.ReadBalance(context.Background(), common.HexToAddress("0x01"), common.Address{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ABI bound")
}

func TestSimulateDecodesReasonString(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringType}}.Pack("Invalid date")
	require.NoError(t, err)
	data := append(crypto.Keccak256([]byte("Error(string)"))[:4], payload...)

	backend := &fakeBackend{call: func(gethcore.CallMsg) ([]byte, error) {
		return nil, &rpcDataError{msg: "execution reverted: Invalid date", data: hexutil.Encode(data)}
	}}
	client, from := newTestClient(t, backend)

	err = client.Simulate(context.Background(), web3.Call{From: from, To: actionAddr, Method: "create", Args: []any{big.NewInt(1)}})
	var rev *web3.RevertError
	require.ErrorAs(t, err, &rev)
	assert.Equal(t, "Invalid date", rev.Reason)
	assert.Empty(t, rev.Name)
}

func TestSimulateDecodesCustomErrorFromCallee(t *testing.T) {
	token, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	custom := token.Errors["ERC20InsufficientBalance"]
	owner := common.HexToAddress("0x0000000000000000000000000000000000000001")
	args, err := custom.Inputs.Pack(owner, big.NewInt(10), big.NewInt(500))
	require.NoError(t, err)
	data := append(append([]byte(nil), custom.ID[:4]...), args...)

	backend := &fakeBackend{call: func(gethcore.CallMsg) ([]byte, error) {
		return nil, &rpcDataError{msg: "execution reverted", data: hexutil.Encode(data)}
	}}
	client, from := newTestClient(t, backend)

	err = client.Simulate(context.Background(), web3.Call{From: from, To: actionAddr, Method: "create", Args: []any{big.NewInt(1)}})
	var rev *web3.RevertError
	require.ErrorAs(t, err, &rev)
	assert.Equal(t, "ERC20InsufficientBalance", rev.Name)
	assert.Equal(t, "0xe450d38c", rev.Selector())
	require.Len(t, rev.Args, 3)
	assert.Equal(t, int64(500), rev.Args[2].(*big.Int).Int64())
}

func TestSimulateTransportErrorIsNotRevert(t *testing.T) {
	backend := &fakeBackend{call: func(gethcore.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	client, from := newTestClient(t, backend)

	err := client.Simulate(context.Background(), web3.Call{From: from, To: actionAddr, Method: "create", Args: []any{big.NewInt(1)}})
	require.Error(t, err)
	var rev *web3.RevertError
	assert.False(t, errors.As(err, &rev))
}

func TestSubmitSignsDynamicFeeTransaction(t *testing.T) {
	backend := &fakeBackend{baseFee: big.NewInt(100), nonce: 7}
	client, from := newTestClient(t, backend)

	handle, err := client.Submit(context.Background(), web3.Call{From: from, To: tokenAddr, Method: "approve", Args: []any{actionAddr, big.NewInt(0)}})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash(), handle.Hash)
	assert.Equal(t, uint64(7), handle.Nonce)
	assert.Equal(t, uint8(coretypes.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, int64(202), tx.GasFeeCap().Int64())

	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)
}

func TestSubmitUsesLegacyPricingWithoutBaseFee(t *testing.T) {
	backend := &fakeBackend{}
	client, from := newTestClient(t, backend)

	_, err := client.Submit(context.Background(), web3.Call{From: from, To: tokenAddr, Method: "approve", Args: []any{actionAddr, big.NewInt(5)}})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint8(coretypes.LegacyTxType), backend.sent[0].Type())
}

func TestSubmitRejectsForeignSender(t *testing.T) {
	client, _ := newTestClient(t, &fakeBackend{})
	_, err := client.Submit(context.Background(), web3.Call{From: common.HexToAddress("0x09"), To: tokenAddr, Method: "approve", Args: []any{actionAddr, big.NewInt(5)}})
	require.Error(t, err)
}

func TestSubmitSerialisesNonces(t *testing.T) {
	backend := &fakeBackend{}
	client, from := newTestClient(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Submit(context.Background(), web3.Call{From: from, To: tokenAddr, Method: "approve", Args: []any{actionAddr, big.NewInt(1)}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range backend.sent {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, 5)
}

func TestAwaitConfirmationPollsUntilMined(t *testing.T) {
	hash := common.HexToHash("0x01")
	backend := &fakeBackend{receipts: map[common.Hash]*coretypes.Receipt{}}
	client, _ := newTestClient(t, backend)

	go func() {
		time.Sleep(20 * time.Millisecond)
		backend.mu.Lock()
		backend.receipts[hash] = &coretypes.Receipt{
			Status:      coretypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(12),
			Logs: []*coretypes.Log{{
				Address: actionAddr,
				Topics:  []common.Hash{common.HexToHash("0xfeed")},
			}},
		}
		backend.mu.Unlock()
	}()

	receipt, err := client.AwaitConfirmation(context.Background(), web3.TxHandle{Hash: hash}, time.Second)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(12), receipt.BlockNumber)
	_, ok := receipt.FindEvent(actionAddr, common.HexToHash("0xfeed"))
	assert.True(t, ok)
}

func TestAwaitConfirmationTimesOut(t *testing.T) {
	client, _ := newTestClient(t, &fakeBackend{receipts: map[common.Hash]*coretypes.Receipt{}})

	_, err := client.AwaitConfirmation(context.Background(), web3.TxHandle{Hash: common.HexToHash("0x02")}, 20*time.Millisecond)
	require.ErrorIs(t, err, web3.ErrConfirmationTimeout)
}

func TestLookupReceiptReportsReverted(t *testing.T) {
	hash := common.HexToHash("0x03")
	backend := &fakeBackend{receipts: map[common.Hash]*coretypes.Receipt{
		hash: {Status: coretypes.ReceiptStatusFailed, BlockNumber: big.NewInt(3)},
	}}
	client, _ := newTestClient(t, backend)

	receipt, found, err := client.LookupReceipt(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, receipt.Succeeded())

	_, found, err = client.LookupReceipt(context.Background(), common.HexToHash("0x04"))
	require.NoError(t, err)
	assert.False(t, found)
}
