package prophet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom
// http.Client. Prophecy creation waits for two approvals and the action, so
// it is longer than a typical REST timeout.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with the Prophet-Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// ProphecyRequest is the payload of CreateProphecy.
type ProphecyRequest struct {
	Sentence      string      `json:"sentence"`
	BettingAmount string      `json:"betting_amount"`
	Oracle        string      `json:"oracle"`
	TargetDates   []time.Time `json:"target_dates"`
}

// Prophecy is returned by a successful CreateProphecy.
type Prophecy struct {
	TokenID         string `json:"token_id"`
	TxHash          string `json:"tx_hash"`
	Owner           string `json:"owner"`
	ApprovalSkipped bool   `json:"approval_skipped"`
	RequestID       string `json:"request_id"`
}

// Transaction is a ledger record of a submitted transaction.
type Transaction struct {
	Hash        string `json:"hash"`
	Purpose     string `json:"purpose"`
	RequestID   string `json:"request_id,omitempty"`
	Owner       string `json:"owner"`
	Contract    string `json:"contract"`
	Method      string `json:"method,omitempty"`
	Status      string `json:"status"`
	ResultID    string `json:"result_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	SubmittedAt int64  `json:"submitted_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Settled reports whether the transaction reached a final status.
func (t Transaction) Settled() bool {
	switch t.Status {
	case "confirmed", "reverted", "failed":
		return true
	}
	return false
}

// TransactionPage is a page of ListTransactions.
type TransactionPage struct {
	Items  []Transaction `json:"items"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// TransactionStats aggregates ledger records.
type TransactionStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Confirmed       int   `json:"confirmed"`
	Reverted        int   `json:"reverted"`
	TimedOut        int   `json:"timed_out"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListFilter narrows ListTransactions and TransactionStats.
type ListFilter struct {
	Statuses []string
	Purposes []string
	Owner    string
	Query    string
	Limit    int
	Offset   int
}

func (f ListFilter) values() url.Values {
	v := url.Values{}
	if len(f.Statuses) > 0 {
		v.Set("status", strings.Join(f.Statuses, ","))
	}
	if len(f.Purposes) > 0 {
		v.Set("purpose", strings.Join(f.Purposes, ","))
	}
	if f.Owner != "" {
		v.Set("owner", f.Owner)
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	return v
}

// Oracle is an entry of the oracle catalog.
type Oracle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Balance is the daemon signer's stake token position.
type Balance struct {
	Owner        string `json:"owner"`
	Balance      string `json:"balance"`
	Allowance    string `json:"allowance"`
	BalanceRaw   string `json:"balance_raw"`
	AllowanceRaw string `json:"allowance_raw"`
	Decimals     uint8  `json:"decimals"`
}

// APIError represents a non-success response. A 202 from CreateProphecy is
// reported as an APIError too: the transaction was sent but not confirmed in
// time and TxHash identifies it.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	TxHash     string `json:"tx_hash,omitempty"`
	Field      string `json:"field,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("prophet api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("prophet api error (%d): %s", e.StatusCode, e.Message)
}

// Pending reports whether the transaction may still confirm later.
func (e *APIError) Pending() bool {
	return e != nil && e.StatusCode == http.StatusAccepted
}

// NewClient instantiates a client for the Prophet-Chain API. When httpClient
// is nil, a default client is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the key sent as a bearer token.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// CreateProphecy asks the daemon to run the guarded creation flow.
func (c *Client) CreateProphecy(ctx context.Context, req ProphecyRequest) (Prophecy, error) {
	var out Prophecy
	if err := c.send(ctx, http.MethodPost, "/api/v1/prophecies", nil, req, &out); err != nil {
		return Prophecy{}, err
	}
	return out, nil
}

// GetTransaction fetches the ledger record of hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (Transaction, error) {
	var out Transaction
	if err := c.send(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(hash), nil, nil, &out); err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// ListTransactions lists ledger records.
func (c *Client) ListTransactions(ctx context.Context, filter ListFilter) (TransactionPage, error) {
	var out TransactionPage
	if err := c.send(ctx, http.MethodGet, "/api/v1/transactions", filter.values(), nil, &out); err != nil {
		return TransactionPage{}, err
	}
	return out, nil
}

// TransactionStats aggregates ledger records.
func (c *Client) TransactionStats(ctx context.Context, filter ListFilter) (TransactionStats, error) {
	var out TransactionStats
	if err := c.send(ctx, http.MethodGet, "/api/v1/transactions/stats", filter.values(), nil, &out); err != nil {
		return TransactionStats{}, err
	}
	return out, nil
}

// ListOracles returns the oracle catalog.
func (c *Client) ListOracles(ctx context.Context) ([]Oracle, error) {
	var out struct {
		Items []Oracle `json:"items"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/oracles", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Balance returns the daemon signer's funds.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var out Balance
	if err := c.send(ctx, http.MethodGet, "/api/v1/balance", nil, nil, &out); err != nil {
		return Balance{}, err
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 || resp.StatusCode == http.StatusAccepted {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
