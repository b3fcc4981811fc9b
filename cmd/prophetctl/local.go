package main

import (
	"context"

	"Prophet-Chain/internal/config"
	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/oracle"
	"Prophet-Chain/internal/prophecy"
	"Prophet-Chain/internal/web3/provider"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// localChain runs the orchestrator in-process against the configured RPC.
type localChain struct {
	registry *provider.Registry
	network  *provider.Network
	service  *prophecy.Service
}

func openLocal(ctx context.Context, s settings, tune func(*guard.Policy)) (*localChain, error) {
	cfg, err := config.Load(s.DaemonConfig)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Log
	logCfg.Format = "text"
	logCfg.Audit.Enabled = false
	if s.Verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "error"
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Web3, prophecy.BindContracts)
	if err != nil {
		return nil, err
	}
	network, err := registry.Default()
	if err != nil {
		registry.Close()
		return nil, err
	}
	catalog, err := oracle.Load(cfg.Oracles.Source)
	if err != nil {
		registry.Close()
		return nil, err
	}

	policy := prophecy.PolicyFromConfig(cfg.Guard)
	if tune != nil {
		tune(&policy)
	}
	service := prophecy.NewService(network.Client, network.Client, prophecy.ContractsOf(network),
		prophecy.WithCatalog(catalog),
		prophecy.WithPolicy(policy),
	)
	return &localChain{registry: registry, network: network, service: service}, nil
}

func (l *localChain) owner() common.Address {
	return l.network.Client.Account()
}

func (l *localChain) Close() {
	l.registry.Close()
	_ = logger.Sync()
}
