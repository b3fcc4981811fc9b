// Package web3 defines the chain-neutral capabilities the orchestrator is
// written against: a ReadClient for balances, allowances and dry runs, a
// WriteClient for signed submissions and confirmation waits, and a
// ReceiptReader used to settle transactions whose confirmation timed out.
// It also loads the YAML chain definitions naming the RPC endpoint and the
// token and prophecy contracts of each network.
package web3
