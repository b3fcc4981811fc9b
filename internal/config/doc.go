// Package config loads the prophetd JSON configuration, fills defaults,
// applies PROPHET_ environment overrides and validates the result before the
// daemon wires its ledger, queue, chain and HTTP components.
package config
