package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"Prophet-Chain/internal/web3"
	"Prophet-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultPollInterval     = time.Second
	defaultGasBufferPercent = 20
)

// Backend is the subset of the JSON-RPC surface the client relies on.
// *ethclient.Client satisfies it; tests supply an in-memory fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name             string
	RPCURL           string
	ChainID          int64
	PrivateKey       string
	PollInterval     time.Duration
	GasBufferPercent int
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name         string
	backend      Backend
	rpcClient    *gethrpc.Client
	chainID      *big.Int
	signer       *bind.TransactOpts
	pollInterval time.Duration
	gasBuffer    int
	logger       *slog.Logger
	now          func() time.Time

	// nonceMu serialises nonce allocation and broadcast.
	nonceMu sync.Mutex

	mu        sync.RWMutex
	contracts map[common.Address]abi.ABI
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("链 ID 不匹配: 配置 %d, 节点 %s", cfg.ChainID, chainID)
	}

	var key *ecdsa.PrivateKey
	if raw := strings.TrimSpace(cfg.PrivateKey); raw != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("解析签名私钥失败: %w", err)
		}
	}

	client, err := NewClientWithBackend(cfg, eth, chainID, key)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewClientWithBackend wires a client over an existing backend. key may be nil
// for a read-only client.
func NewClientWithBackend(cfg Config, backend Backend, chainID *big.Int, key *ecdsa.PrivateKey) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	c := &Client{
		name:         cfg.Name,
		backend:      backend,
		chainID:      new(big.Int).Set(chainID),
		pollInterval: cfg.PollInterval,
		gasBuffer:    cfg.GasBufferPercent,
		logger:       logger.Named("ethereum").With(slog.String("chain", cfg.Name)),
		now:          time.Now,
		contracts:    make(map[common.Address]abi.ABI),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.gasBuffer <= 0 {
		c.gasBuffer = defaultGasBufferPercent
	}
	if key != nil {
		opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
		if err != nil {
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		c.signer = opts
	}
	return c, nil
}

// Name returns the network name the client was configured with.
func (c *Client) Name() string { return c.name }

// ChainID returns the verified chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Account returns the signer address, or the zero address for read-only clients.
func (c *Client) Account() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.From
}

// Bind registers the ABI used to pack calls addressed to addr and to decode
// custom errors it raises.
func (c *Client) Bind(addr common.Address, contract abi.ABI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = contract
}

func (c *Client) contract(addr common.Address) (abi.ABI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parsed, ok := c.contracts[addr]
	if !ok {
		return abi.ABI{}, fmt.Errorf("no ABI bound for contract %s", addr.Hex())
	}
	return parsed, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ReadBalance returns balanceOf(owner) on the token contract.
func (c *Client) ReadBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.readUint(ctx, token, "balanceOf", owner)
}

// ReadAllowance returns allowance(owner, spender) on the token contract.
func (c *Client) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.readUint(ctx, token, "allowance", owner, spender)
}

// ReadDecimals returns decimals() on the token contract.
func (c *Client) ReadDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.read(ctx, common.Address{}, token, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, errors.New("decimals: empty result")
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	return decimals, nil
}

func (c *Client) readUint(ctx context.Context, token common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.read(ctx, common.Address{}, token, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return value, nil
}

func (c *Client) read(ctx context.Context, from, to common.Address, method string, args ...any) ([]any, error) {
	parsed, err := c.contract(to)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, gethcore.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// Simulate performs an eth_call of the state-changing call from call.From.
func (c *Client) Simulate(ctx context.Context, call web3.Call) error {
	parsed, err := c.contract(call.To)
	if err != nil {
		return err
	}
	data, err := parsed.Pack(call.Method, call.Args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", call.Method, err)
	}
	to := call.To
	_, err = c.backend.CallContract(ctx, gethcore.CallMsg{From: call.From, To: &to, Data: data}, nil)
	if err == nil {
		return nil
	}
	if revert, ok := c.decodeRevert(call.To, err); ok {
		return revert
	}
	return fmt.Errorf("simulate %s: %w", call.Method, err)
}

// Submit signs and broadcasts call. The transaction is accepted once the node
// returns without error; the receipt is awaited separately.
func (c *Client) Submit(ctx context.Context, call web3.Call) (web3.TxHandle, error) {
	if c.signer == nil {
		return web3.TxHandle{}, errors.New("client has no signing key")
	}
	from := call.From
	if from == (common.Address{}) {
		from = c.signer.From
	}
	if from != c.signer.From {
		return web3.TxHandle{}, fmt.Errorf("cannot sign for %s: signer is %s", from.Hex(), c.signer.From.Hex())
	}

	parsed, err := c.contract(call.To)
	if err != nil {
		return web3.TxHandle{}, err
	}
	data, err := parsed.Pack(call.Method, call.Args...)
	if err != nil {
		return web3.TxHandle{}, fmt.Errorf("pack %s: %w", call.Method, err)
	}
	to := call.To

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return web3.TxHandle{}, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		if revert, ok := c.decodeRevert(call.To, err); ok {
			return web3.TxHandle{}, revert
		}
		return web3.TxHandle{}, fmt.Errorf("估算 gas 失败: %w", err)
	}
	gas = gas * uint64(100+c.gasBuffer) / 100

	tx, err := c.buildTx(ctx, nonce, to, gas, data)
	if err != nil {
		return web3.TxHandle{}, err
	}
	signed, err := c.signer.Signer(from, tx)
	if err != nil {
		return web3.TxHandle{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return web3.TxHandle{}, fmt.Errorf("发送交易失败: %w", err)
	}

	handle := web3.TxHandle{
		Hash:        signed.Hash(),
		From:        from,
		To:          to,
		Method:      call.Method,
		Nonce:       nonce,
		SubmittedAt: c.now(),
	}
	c.logger.Debug("transaction submitted",
		slog.String("tx_hash", handle.Hash.Hex()),
		slog.String("method", call.Method),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return handle, nil
}

func (c *Client) buildTx(ctx context.Context, nonce uint64, to common.Address, gas uint64, data []byte) (*coretypes.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	if head.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取小费建议失败: %w", err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return coretypes.NewTx(&coretypes.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		}), nil
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	}), nil
}

// AwaitConfirmation polls for the receipt until it appears, the timeout
// elapses or ctx ends. Both deadline and cancellation yield
// web3.ErrConfirmationTimeout since the transaction may still be mined.
func (c *Client) AwaitConfirmation(ctx context.Context, handle web3.TxHandle, timeout time.Duration) (web3.Receipt, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, found, err := c.LookupReceipt(ctx, handle.Hash)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("receipt lookup failed", slog.String("tx_hash", handle.Hash.Hex()), slog.Any("error", err))
		}
		if found {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return web3.Receipt{}, fmt.Errorf("%w: %s (%v)", web3.ErrConfirmationTimeout, handle.Hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// LookupReceipt fetches the receipt of hash. found is false while pending.
func (c *Client) LookupReceipt(ctx context.Context, hash common.Hash) (web3.Receipt, bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return web3.Receipt{}, false, nil
		}
		return web3.Receipt{}, false, err
	}
	if receipt == nil {
		return web3.Receipt{}, false, nil
	}
	return convertReceipt(hash, receipt), true, nil
}

func convertReceipt(hash common.Hash, receipt *coretypes.Receipt) web3.Receipt {
	out := web3.Receipt{
		Hash:    hash,
		Status:  web3.ReceiptReverted,
		GasUsed: receipt.GasUsed,
		Events:  make([]web3.EventRecord, 0, len(receipt.Logs)),
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		out.Status = web3.ReceiptSuccess
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	for _, log := range receipt.Logs {
		if log == nil {
			continue
		}
		out.Events = append(out.Events, web3.EventRecord{
			Emitter: log.Address,
			Topics:  append([]common.Hash(nil), log.Topics...),
			Data:    append([]byte(nil), log.Data...),
			Index:   log.Index,
		})
	}
	return out
}
