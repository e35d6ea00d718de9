// Package wallet deposits issued certificate slices into the owner's wallet.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FederatedStreamID struct {
	Registry string    `json:"registry"`
	StreamID uuid.UUID `json:"streamId"`
}

// ReceiveSliceRequest hands the wallet everything it needs to spend a slice.
type ReceiveSliceRequest struct {
	FederatedStreamID FederatedStreamID `json:"federatedStreamId"`
	Position          uint32            `json:"position"`
	PublicKey         []byte            `json:"publicKey"`
	Quantity          uint32            `json:"quantity"`
	RandomR           []byte            `json:"randomR"`
	HashedAttributes  []string          `json:"hashedAttributes"`
}

type Client struct {
	client *http.Client
	logger *zap.Logger
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "wallet_client")),
	}
}

// ReceiveSlice posts req to the wallet endpoint. Any non-2xx is an error.
func (c *Client) ReceiveSlice(ctx context.Context, endpoint string, req ReceiveSliceRequest) error {
	if req.HashedAttributes == nil {
		req.HashedAttributes = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode receive slice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create receive slice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send slice to wallet: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send slice to wallet: unexpected status %d", resp.StatusCode)
	}

	c.logger.Debug("Wallet accepted slice",
		zap.Stringer("certificate_id", req.FederatedStreamID.StreamID),
		zap.Uint32("position", req.Position))
	return nil
}
