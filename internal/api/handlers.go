package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/oracle"
	"Prophet-Chain/internal/prophecy"
)

const maxBodyBytes = 64 << 10

// CreateProphecyResponse 是创建成功的响应体。
type CreateProphecyResponse struct {
	TokenID         string `json:"token_id"`
	TxHash          string `json:"tx_hash"`
	Owner           string `json:"owner"`
	ApprovalSkipped bool   `json:"approval_skipped"`
	RequestID       string `json:"request_id"`
}

// TransactionList 是交易列表响应体。
type TransactionList struct {
	Items  []*ledger.Record `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// OracleList 是预言机目录响应体。
type OracleList struct {
	Items []oracle.Oracle `json:"items"`
}

// BalanceResponse 展示签名账户的资金情况。
type BalanceResponse struct {
	Owner        string `json:"owner"`
	Balance      string `json:"balance"`
	Allowance    string `json:"allowance"`
	BalanceRaw   string `json:"balance_raw"`
	AllowanceRaw string `json:"allowance_raw"`
	Decimals     uint8  `json:"decimals"`
}

func (s *Server) handleCreateProphecy(w http.ResponseWriter, r *http.Request) {
	var in prophecy.Input
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: string(xerrors.CodeInvalidArgument), Message: "请求体解析失败"})
		return
	}

	created, err := s.service.Create(r.Context(), s.cfg.Owner, in)
	if err != nil {
		body := bodyFor(err)
		body.RequestID = created.RequestID
		writeError(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusCreated, CreateProphecyResponse{
		TokenID:         created.TokenID,
		TxHash:          created.TxHash.Hex(),
		Owner:           strings.ToLower(s.cfg.Owner.Hex()),
		ApprovalSkipped: created.ApprovalSkipped,
		RequestID:       created.RequestID,
	})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.Transaction(r.Context(), r.PathValue("hash"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	records, err := s.service.Transactions(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	applied := ledger.BuildListOptions(opts...)
	if records == nil {
		records = []*ledger.Record{}
	}
	writeJSON(w, http.StatusOK, TransactionList{Items: records, Limit: applied.Limit, Offset: applied.Offset})
}

func (s *Server) handleTransactionStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := s.service.Stats(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOracles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, OracleList{Items: s.service.Oracles()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	funds, err := s.service.Balance(r.Context(), s.cfg.Owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Owner:        strings.ToLower(s.cfg.Owner.Hex()),
		Balance:      prophecy.FormatUnits(funds.Balance, funds.Decimals),
		Allowance:    prophecy.FormatUnits(funds.Allowance, funds.Decimals),
		BalanceRaw:   funds.Balance.String(),
		AllowanceRaw: funds.Allowance.String(),
		Decimals:     funds.Decimals,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseListOptions 解析 status、purpose、owner、limit、offset、q、order、since、until。
func parseListOptions(r *http.Request) ([]ledger.ListOption, error) {
	query := r.URL.Query()
	var opts []ledger.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, invalidQuery("limit")
		}
		opts = append(opts, ledger.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, invalidQuery("offset")
		}
		opts = append(opts, ledger.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []ledger.Status
		for _, item := range splitList(raw) {
			status := ledger.Status(item)
			if !ledger.IsValidStatus(status) {
				return nil, invalidQuery("status")
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, ledger.WithStatuses(statuses...))
	}
	if raw := query.Get("purpose"); raw != "" {
		opts = append(opts, ledger.WithPurposes(splitList(raw)...))
	}
	if raw := query.Get("owner"); raw != "" {
		opts = append(opts, ledger.WithOwner(raw))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, ledger.WithQuery(raw))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, ledger.WithSortOrder(ledger.SortByUpdatedAsc))
	default:
		return nil, invalidQuery("order")
	}
	for _, bound := range []struct {
		name string
		opt  func(time.Time) ledger.ListOption
	}{{"since", ledger.WithUpdatedSince}, {"until", ledger.WithUpdatedUntil}} {
		raw := query.Get(bound.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, invalidQuery(bound.name)
		}
		opts = append(opts, bound.opt(ts))
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func invalidQuery(field string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "查询参数无效", xerrors.WithMetadata(guard.MetaField, field))
}
