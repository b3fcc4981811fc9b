package api

import (
	"encoding/json"
	"net/http"

	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/ledger"
)

// errorBody 是所有失败响应的统一格式。
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	TxHash    string `json:"tx_hash,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case guard.CodeValidationFailed, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case guard.CodeInsufficientFunds, guard.CodeSimulationFailed:
		return http.StatusUnprocessableEntity
	case guard.CodeConfirmationTimedOut:
		return http.StatusAccepted
	case guard.CodeActionReverted, guard.CodeResultEventMissing, xerrors.CodeConflict, ledger.CodeTxConflict:
		return http.StatusConflict
	case guard.CodeApprovalResetFailed, guard.CodeApprovalFailed, guard.CodeAllowanceNotObserved, guard.CodeSubmissionFailed, xerrors.CodeChainFailure:
		return http.StatusBadGateway
	case xerrors.CodeNotFound, ledger.CodeTxNotFound:
		return http.StatusNotFound
	case xerrors.CodeTimeout, xerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bodyFor(err error) errorBody {
	return errorBody{
		Code:    string(xerrors.CodeOf(err)),
		Message: guard.UserMessage(err),
		TxHash:  guard.TxHash(err),
		Field:   guard.Field(err),
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), bodyFor(err))
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
