package web3

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network and the contracts the
// orchestrator talks to on it.
type ChainDefinition struct {
	Type         string              `yaml:"type"`
	RPCURL       string              `yaml:"rpc_url"`
	ChainID      int64               `yaml:"chain_id"`
	Description  string              `yaml:"description"`
	PollInterval time.Duration       `yaml:"poll_interval"`
	GasBuffer    int                 `yaml:"gas_buffer_percent"`
	Contracts    ContractDefinitions `yaml:"contracts"`
}

// ContractDefinitions holds the funding token and prophecy contract addresses.
type ContractDefinitions struct {
	Token         string `yaml:"token"`
	TokenDecimals uint8  `yaml:"token_decimals"`
	TokenSymbol   string `yaml:"token_symbol"`
	Prophet       string `yaml:"prophet"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if err := def.Validate(); err != nil {
			return ChainDefinitions{}, fmt.Errorf("链 %s 配置无效: %w", name, err)
		}
	}
	return defs, nil
}

// Validate checks addresses and mandatory endpoints.
func (d ChainDefinition) Validate() error {
	if strings.TrimSpace(d.RPCURL) == "" {
		return fmt.Errorf("rpc_url is required")
	}
	for field, addr := range map[string]string{"contracts.token": d.Contracts.Token, "contracts.prophet": d.Contracts.Prophet} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", field, addr)
		}
	}
	return nil
}

// TokenAddress returns the funding asset contract.
func (d ChainDefinition) TokenAddress() common.Address {
	return common.HexToAddress(d.Contracts.Token)
}

// ProphetAddress returns the guarded action contract.
func (d ChainDefinition) ProphetAddress() common.Address {
	return common.HexToAddress(d.Contracts.Prophet)
}
