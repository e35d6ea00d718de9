package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"go.uber.org/zap"
)

type Status string

const (
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
)

// ErrTransactionPending means the registry has not reached a verdict yet.
var ErrTransactionPending = fmt.Errorf("registry transaction pending: %w", retry.ErrPending)

type TransactionStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

type sendRequest struct {
	Transactions []Transaction `json:"transactions"`
}

// Client talks JSON to the registry RPC gateway.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "registry_client")),
	}
}

// SendTransactions submits txs. A conflict means the registry already holds
// them and counts as success.
func (c *Client) SendTransactions(ctx context.Context, txs ...Transaction) error {
	status, err := c.doJSON(ctx, http.MethodPost, "/v1/transactions", sendRequest{Transactions: txs}, nil)
	if err != nil {
		return fmt.Errorf("send transactions: %w", err)
	}
	if status == http.StatusConflict {
		c.logger.Info("Registry already holds transactions", zap.Int("count", len(txs)))
	}
	return nil
}

// GetTransactionStatus returns the status of tx id. Unknown statuses are
// treated as pending.
func (c *Client) GetTransactionStatus(ctx context.Context, id string) (TransactionStatus, error) {
	var out TransactionStatus
	if _, err := c.doJSON(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(id)+"/status", nil, &out); err != nil {
		return TransactionStatus{}, fmt.Errorf("transaction %s status: %w", id, err)
	}
	out.Status = Status(strings.ToLower(string(out.Status)))
	switch out.Status {
	case StatusCommitted, StatusFailed:
	default:
		out.Status = StatusPending
	}
	return out, nil
}

// doJSON performs one request. 5xx and transport errors are transient,
// other non-2xx responses except 409 are permanent.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, retry.Permanent(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return resp.StatusCode, nil
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("server %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return resp.StatusCode, retry.Permanent(fmt.Errorf("http %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
