package guard

import "time"

const (
	DefaultSettleDelay      = 2 * time.Second
	DefaultAllowanceRetries = 1
	DefaultApprovalTimeout  = 60 * time.Second
	DefaultConfirmTimeout   = 60 * time.Second
)

// Policy bounds the waits of a single Execute call.
type Policy struct {
	// SettleDelay is slept after the grant is confirmed and before each
	// allowance re-read.
	SettleDelay time.Duration
	// AllowanceRetries is the number of extra re-reads after the first one.
	// Zero means the default; a negative value disables retries.
	AllowanceRetries int
	ApprovalTimeout  time.Duration
	ConfirmTimeout   time.Duration
	// AlwaysApprove runs reset and grant even when a fresh read shows the
	// allowance already covers the amount. The zero value skips them.
	AlwaysApprove bool
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		SettleDelay:      DefaultSettleDelay,
		AllowanceRetries: DefaultAllowanceRetries,
		ApprovalTimeout:  DefaultApprovalTimeout,
		ConfirmTimeout:   DefaultConfirmTimeout,
	}
}

func (p Policy) normalize() Policy {
	if p.SettleDelay <= 0 {
		p.SettleDelay = DefaultSettleDelay
	}
	switch {
	case p.AllowanceRetries == 0:
		p.AllowanceRetries = DefaultAllowanceRetries
	case p.AllowanceRetries < 0:
		p.AllowanceRetries = 0
	}
	if p.ApprovalTimeout <= 0 {
		p.ApprovalTimeout = DefaultApprovalTimeout
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = DefaultConfirmTimeout
	}
	return p
}
