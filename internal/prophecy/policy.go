package prophecy

import (
	"Prophet-Chain/internal/config"
	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/web3/provider"
)

// PolicyFromConfig overlays the configured guard settings on the defaults.
// Zero values keep the default.
func PolicyFromConfig(cfg config.GuardConfig) guard.Policy {
	policy := guard.DefaultPolicy()
	if d := cfg.SettleDelay(); d > 0 {
		policy.SettleDelay = d
	}
	if cfg.AllowanceRetries > 0 {
		policy.AllowanceRetries = cfg.AllowanceRetries
	}
	if d := cfg.ApprovalTimeout(); d > 0 {
		policy.ApprovalTimeout = d
	}
	if d := cfg.ConfirmTimeout(); d > 0 {
		policy.ConfirmTimeout = d
	}
	if cfg.SkipApprovalWhenSufficient != nil {
		policy.AlwaysApprove = !*cfg.SkipApprovalWhenSufficient
	}
	return policy
}

// ContractsOf returns the contracts configured for a network.
func ContractsOf(network *provider.Network) Contracts {
	def := network.Definition
	return Contracts{Token: def.TokenAddress(), Prophet: def.ProphetAddress(), Decimals: def.Contracts.TokenDecimals}
}
