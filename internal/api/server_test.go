package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"Prophet-Chain/internal/auth"
	"Prophet-Chain/internal/config"
	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/oracle"
	"Prophet-Chain/internal/prophecy"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

var signer = common.HexToAddress("0x00000000000000000000000000000000000000A1")

func TestMain(m *testing.M) {
	logger.Use(logger.Discard())
	os.Exit(m.Run())
}

type fakeService struct {
	createErr error
	created   prophecy.Created
	lastInput prophecy.Input
	store     *ledger.MemoryStore
}

func newFakeService() *fakeService {
	return &fakeService{store: ledger.NewMemoryStore()}
}

func (f *fakeService) Create(_ context.Context, owner common.Address, in prophecy.Input, _ ...prophecy.CreateOption) (prophecy.Created, error) {
	f.lastInput = in
	out := f.created
	out.Owner = owner
	out.RequestID = "req-1"
	return out, f.createErr
}

func (f *fakeService) Balance(context.Context, common.Address) (prophecy.Funds, error) {
	return prophecy.Funds{Balance: big.NewInt(12_500_000), Allowance: big.NewInt(0), Decimals: 6}, nil
}

func (f *fakeService) Transaction(ctx context.Context, hash string) (*ledger.Record, error) {
	return f.store.Get(ctx, hash)
}

func (f *fakeService) Transactions(ctx context.Context, opts ...ledger.ListOption) ([]*ledger.Record, error) {
	return f.store.List(ctx, ledger.BuildListOptions(opts...))
}

func (f *fakeService) Stats(ctx context.Context, opts ...ledger.ListOption) (ledger.Stats, error) {
	return f.store.Stats(ctx, ledger.BuildListOptions(opts...))
}

func (f *fakeService) Oracles() []oracle.Oracle { return oracle.Defaults() }

func newTestServer(svc ProphecyService, authSvc *auth.Service) http.Handler {
	return NewServer(Config{Address: ":0", Owner: signer}, svc, authSvc).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

const createBody = `{"sentence":"BTC above 150k","betting_amount":"5","oracle":"BBC","target_dates":["2027-01-01T00:00:00Z"]}`

func TestCreateProphecySuccess(t *testing.T) {
	svc := newFakeService()
	svc.created = prophecy.Created{TokenID: "42", TxHash: common.HexToHash("0xabc"), ApprovalSkipped: true}
	rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/v1/prophecies", createBody)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	got := decode[CreateProphecyResponse](t, rec)
	if got.TokenID != "42" || !got.ApprovalSkipped || got.Owner != strings.ToLower(signer.Hex()) {
		t.Fatalf("unexpected response: %+v", got)
	}
	if svc.lastInput.BettingAmount != "5" || len(svc.lastInput.TargetDates) != 1 {
		t.Fatalf("input not decoded: %+v", svc.lastInput)
	}
}

func TestCreateProphecyErrorMapping(t *testing.T) {
	hash := common.HexToHash("0x01").Hex()
	cases := []struct {
		name   string
		err    error
		status int
		field  string
		txHash string
	}{
		{"validation", guard.ValidationFailed("betting_amount"), http.StatusBadRequest, "betting_amount", ""},
		{"funds", xerrors.New(guard.CodeInsufficientFunds, ""), http.StatusUnprocessableEntity, "", ""},
		{"simulation", xerrors.New(guard.CodeSimulationFailed, ""), http.StatusUnprocessableEntity, "", ""},
		{"timeout", xerrors.New(guard.CodeConfirmationTimedOut, "", xerrors.WithMetadata(guard.MetaTxHash, hash)), http.StatusAccepted, "", hash},
		{"reverted", xerrors.New(guard.CodeActionReverted, "", xerrors.WithMetadata(guard.MetaTxHash, hash)), http.StatusConflict, "", hash},
		{"event", xerrors.New(guard.CodeResultEventMissing, ""), http.StatusConflict, "", ""},
		{"approval", xerrors.New(guard.CodeApprovalFailed, ""), http.StatusBadGateway, "", ""},
		{"submission", xerrors.New(guard.CodeSubmissionFailed, ""), http.StatusBadGateway, "", ""},
		{"node", xerrors.Wrap(xerrors.CodeChainFailure, errors.New("boom"), "", xerrors.WithMetadata(guard.MetaStep, "checking_balance")), http.StatusBadGateway, "", ""},
		{"foreign", errors.New("boom"), http.StatusInternalServerError, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.createErr = tc.err
			rec := do(t, newTestServer(svc, nil), http.MethodPost, "/api/v1/prophecies", createBody)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d", rec.Code, tc.status)
			}
			body := decode[errorBody](t, rec)
			if body.Field != tc.field || body.TxHash != tc.txHash || body.RequestID != "req-1" {
				t.Fatalf("unexpected body: %+v", body)
			}
			if strings.Contains(body.Message, "boom") {
				t.Fatalf("cause leaked: %q", body.Message)
			}
		})
	}
}

func TestCreateProphecyRejectsBadJSON(t *testing.T) {
	rec := do(t, newTestServer(newFakeService(), nil), http.MethodPost, "/api/v1/prophecies", `{"sentence":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestTransactionRoutes(t *testing.T) {
	svc := newFakeService()
	hash := common.HexToHash("0x02").Hex()
	if err := svc.store.Create(context.Background(), &ledger.Record{Hash: hash, Purpose: "action", Owner: "0xa1", Contract: "0xc3"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newTestServer(svc, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/transactions/"+hash, "")
	if rec.Code != http.StatusOK || decode[ledger.Record](t, rec).Hash != hash {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/transactions/0xmissing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transactions?status=pending&limit=5", "")
	list := decode[TransactionList](t, rec)
	if rec.Code != http.StatusOK || len(list.Items) != 1 || list.Limit != 5 {
		t.Fatalf("list: %d %+v", rec.Code, list)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/transactions?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transactions/stats", "")
	if stats := decode[ledger.Stats](t, rec); rec.Code != http.StatusOK || stats.Pending != 1 {
		t.Fatalf("stats: %d %+v", rec.Code, stats)
	}
}

func TestBalanceOraclesHealth(t *testing.T) {
	h := newTestServer(newFakeService(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/balance", "")
	if got := decode[BalanceResponse](t, rec); got.Balance != "12.5" || got.Allowance != "0" {
		t.Fatalf("balance: %+v", got)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/oracles", "")
	if got := decode[OracleList](t, rec); len(got.Items) != len(oracle.Defaults()) {
		t.Fatalf("oracles: %+v", got)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "prophet_") {
		t.Fatalf("metrics output missing prefix: %s", rec.Body.String())
	}
}

func TestPermissions(t *testing.T) {
	authSvc, err := auth.NewService(config.AuthConfig{Enabled: true, APIKeys: []config.APIKeyConfig{
		{ID: "reader", Key: "r", Permissions: []string{auth.PermissionRead}},
	}})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	h := newTestServer(newFakeService(), authSvc)

	if rec := do(t, h, http.MethodGet, "/api/v1/oracles", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous read: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/oracles", "", "Authorization", "Bearer r"); rec.Code != http.StatusOK {
		t.Fatalf("reader read: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/prophecies", createBody, auth.HeaderAPIKey, "r"); rec.Code != http.StatusForbidden {
		t.Fatalf("reader create: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public: %d", rec.Code)
	}
}
