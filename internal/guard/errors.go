package guard

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "Prophet-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

const (
	CodeValidationFailed     xerrors.Code = "VALIDATION_FAILED"
	CodeInsufficientFunds    xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeApprovalResetFailed  xerrors.Code = "APPROVAL_RESET_FAILED"
	CodeApprovalFailed       xerrors.Code = "APPROVAL_FAILED"
	CodeAllowanceNotObserved xerrors.Code = "ALLOWANCE_NOT_OBSERVED"
	CodeSimulationFailed     xerrors.Code = "SIMULATION_FAILED"
	CodeSubmissionFailed     xerrors.Code = "SUBMISSION_FAILED"
	CodeConfirmationTimedOut xerrors.Code = "CONFIRMATION_TIMED_OUT"
	CodeActionReverted       xerrors.Code = "ACTION_REVERTED"
	CodeResultEventMissing   xerrors.Code = "RESULT_EVENT_MISSING"
)

// Metadata keys attached to orchestrator errors.
const (
	MetaField  = "field"
	MetaHave   = "have"
	MetaNeed   = "need"
	MetaReason = "reason"
	MetaTxHash = "tx_hash"
	MetaStep   = "step"
)

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{Message: "invalid input", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{Message: "insufficient balance", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeApprovalResetFailed, xerrors.Attributes{Message: "could not reset token allowance", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeApprovalFailed, xerrors.Attributes{Message: "token approval failed", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeAllowanceNotObserved, xerrors.Attributes{Message: "approved allowance not yet visible", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeSimulationFailed, xerrors.Attributes{Message: "transaction would fail", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{Message: "transaction could not be submitted", Severity: xerrors.SeverityWarning, Retryable: true})
	// A timed-out action may still land; resubmitting could duplicate it.
	xerrors.Register(CodeConfirmationTimedOut, xerrors.Attributes{Message: "confirmation timed out", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeActionReverted, xerrors.Attributes{Message: "transaction reverted", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeResultEventMissing, xerrors.Attributes{Message: "transaction succeeded but no result event was found", Severity: xerrors.SeverityCritical, Alert: true})
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func validationFailed(field string) error {
	return xerrors.New(CodeValidationFailed, "", xerrors.WithMetadata(MetaField, field))
}

// ValidationFailed reports an invalid input field for checks made outside
// the orchestrator, e.g. decimal parsing or catalog lookups.
func ValidationFailed(field string) error {
	return validationFailed(field)
}

func insufficientFunds(have, need *big.Int) error {
	return xerrors.New(CodeInsufficientFunds, "", xerrors.WithFields(map[string]string{MetaHave: amountString(have), MetaNeed: amountString(need)}))
}

// chainFailure reports a read that never reached a verdict, so nothing is
// known about the owner's funds.
func chainFailure(step State, cause error) error {
	return xerrors.Wrap(xerrors.CodeChainFailure, cause, "", xerrors.WithMetadata(MetaStep, step.String()))
}

func approvalResetFailed(hash common.Hash, cause error) error {
	return xerrors.Wrap(CodeApprovalResetFailed, cause, "", xerrors.WithFields(map[string]string{MetaTxHash: hashString(hash)}))
}

func approvalFailed(hash common.Hash, cause error) error {
	return xerrors.Wrap(CodeApprovalFailed, cause, "", xerrors.WithFields(map[string]string{MetaTxHash: hashString(hash)}))
}

func allowanceNotObserved(have, need *big.Int, cause error) error {
	return xerrors.Wrap(CodeAllowanceNotObserved, cause, "", xerrors.WithFields(map[string]string{MetaHave: amountString(have), MetaNeed: amountString(need)}))
}

func simulationFailed(d diagnosis, cause error) error {
	return xerrors.Wrap(CodeSimulationFailed, cause, "", xerrors.WithFields(map[string]string{
		MetaReason: d.Reason,
		MetaHave:   amountString(d.Have),
		MetaNeed:   amountString(d.Need),
	}))
}

func submissionFailed(cause error) error {
	return xerrors.Wrap(CodeSubmissionFailed, cause, "")
}

func confirmationTimedOut(hash common.Hash, cause error) error {
	return xerrors.Wrap(CodeConfirmationTimedOut, cause, "", xerrors.WithMetadata(MetaTxHash, hash.Hex()))
}

func actionReverted(hash common.Hash) error {
	return xerrors.New(CodeActionReverted, "", xerrors.WithMetadata(MetaTxHash, hash.Hex()))
}

func resultEventMissing(hash common.Hash, cause error) error {
	return xerrors.Wrap(CodeResultEventMissing, cause, "", xerrors.WithMetadata(MetaTxHash, hash.Hex()))
}

// Kind returns the error code of err, or CodeUnknown for foreign errors.
func Kind(err error) xerrors.Code {
	return xerrors.CodeOf(err)
}

// TxHash returns the transaction hash attached to err, if any.
func TxHash(err error) string {
	return xerrors.MetadataOf(err)[MetaTxHash]
}

// Field returns the name of the invalid input for VALIDATION_FAILED errors.
func Field(err error) string {
	return xerrors.MetadataOf(err)[MetaField]
}

// UserMessage renders the stable message of err together with its details,
// e.g. "insufficient balance: have 0, need 500". Causes are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	base := xerrors.Public(err)
	meta := xerrors.MetadataOf(err)

	var details []string
	switch Kind(err) {
	case CodeValidationFailed:
		if f := meta[MetaField]; f != "" {
			details = append(details, f)
		}
	case CodeInsufficientFunds, CodeAllowanceNotObserved:
		details = append(details, fundsDetail(meta))
	case CodeSimulationFailed:
		if r := meta[MetaReason]; r != "" {
			details = append(details, r)
		}
		if meta[MetaNeed] != "" {
			details = append(details, fundsDetail(meta))
		}
	case CodeApprovalResetFailed, CodeApprovalFailed, CodeConfirmationTimedOut, CodeActionReverted, CodeResultEventMissing:
		if h := meta[MetaTxHash]; h != "" {
			details = append(details, "tx "+h)
		}
	}
	if len(details) == 0 {
		return base
	}
	return base + ": " + strings.Join(details, ", ")
}

func fundsDetail(meta map[string]string) string {
	have := meta[MetaHave]
	if have == "" {
		have = "unknown"
	}
	return fmt.Sprintf("have %s, need %s", have, meta[MetaNeed])
}
