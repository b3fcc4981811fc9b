package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"Prophet-Chain/internal/config"
	"Prophet-Chain/internal/web3"
	"Prophet-Chain/internal/web3/ethereum"
)

// Network couples a chain definition with its connected client.
type Network struct {
	Name       string
	Definition web3.ChainDefinition
	Client     *ethereum.Client
}

// Binder registers contract ABIs on a freshly dialled network.
type Binder func(*Network) error

// Registry manages a set of networks keyed by human readable names.
type Registry struct {
	defaultChain string
	networks     map[string]*Network
}

// NewRegistry loads chain definitions and instantiates concrete clients. When
// no chain file is configured a single "default" network is built from the
// inline rpc_url and contract addresses.
func NewRegistry(ctx context.Context, cfg config.Web3Config, bind Binder) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{
			Type:      "evm",
			RPCURL:    cfg.RPCURL,
			ChainID:   cfg.ChainID,
			GasBuffer: cfg.GasBufferPercent,
			Contracts: web3.ContractDefinitions{
				Token:         cfg.TokenAddress,
				TokenDecimals: cfg.TokenDecimals,
				Prophet:       cfg.ProphetAddress,
			},
		}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	registry := &Registry{networks: make(map[string]*Network)}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			registry.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}

		if chain.Contracts.TokenDecimals == 0 {
			chain.Contracts.TokenDecimals = cfg.TokenDecimals
		}
		pollInterval := chain.PollInterval
		if pollInterval <= 0 {
			pollInterval = cfg.PollInterval()
		}
		gasBuffer := chain.GasBuffer
		if gasBuffer <= 0 {
			gasBuffer = cfg.GasBufferPercent
		}

		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:             name,
			RPCURL:           chain.RPCURL,
			ChainID:          chain.ChainID,
			PrivateKey:       cfg.PrivateKey(),
			PollInterval:     pollInterval,
			GasBufferPercent: gasBuffer,
		})
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		network := &Network{Name: name, Definition: chain, Client: client}
		registry.networks[name] = network
		if bind != nil {
			if err := bind(network); err != nil {
				registry.Close()
				return nil, fmt.Errorf("绑定链 %s 合约失败: %w", name, err)
			}
		}
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = registry.Names()[0]
	}
	if _, ok := registry.networks[defaultChain]; !ok {
		registry.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	registry.defaultChain = defaultChain
	return registry, nil
}

// Default returns the network configured as default chain.
func (r *Registry) Default() (*Network, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	network, ok := r.networks[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return network, nil
}

// Network returns the network identified by name.
func (r *Registry) Network(name string) (*Network, bool) {
	if r == nil {
		return nil, false
	}
	network, ok := r.networks[name]
	return network, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, network := range r.networks {
		if network.Client != nil {
			network.Client.Close()
		}
		delete(r.networks, name)
	}
}

// Names returns the list of registered network names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
