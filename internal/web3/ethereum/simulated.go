package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// NewSimulatedClient 基于 go-ethereum 的模拟链构造客户端，供测试使用。
// 每笔交易广播后立即出块，行为与开启自动出块的本地节点一致。
func NewSimulatedClient(cfg Config, sim *simulated.Backend, key *ecdsa.PrivateKey) (*Client, error) {
	if sim == nil {
		return nil, errors.New("simulated backend is required")
	}
	backend := &sealingBackend{Client: sim.Client(), seal: sim}
	chainID, err := backend.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("获取模拟链 ID 失败: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "simulated"
	}
	return NewClientWithBackend(cfg, backend, chainID, key)
}

type sealingBackend struct {
	simulated.Client
	seal *simulated.Backend
}

func (b *sealingBackend) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := b.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.seal.Commit()
	return nil
}

var _ Backend = (*sealingBackend)(nil)
