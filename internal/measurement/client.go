package measurement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/tools/timeparser"
	"go.uber.org/zap"
)

const queryPath = "/api/measurements"

// Client queries the measurement API over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a measurement source client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "measurement_client")),
	}
}

type wireMeasurement struct {
	MeterID         string          `json:"meterId"`
	DateFrom        json.RawMessage `json:"dateFrom"`
	DateTo          json.RawMessage `json:"dateTo"`
	Quantity        int64           `json:"quantity"`
	QuantityMissing bool            `json:"quantityMissing"`
	Quality         string          `json:"quality"`
}

type queryResponse struct {
	Measurements []wireMeasurement `json:"measurements"`
}

// Query implements Source.
func (c *Client) Query(ctx context.Context, owner, meterID string, from, to interval.Timestamp) ([]Measurement, error) {
	params := url.Values{}
	params.Set("owner", owner)
	params.Set("meterId", meterID)
	params.Set("dateFrom", strconv.FormatInt(from.Seconds(), 10))
	params.Set("dateTo", strconv.FormatInt(to.Seconds(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+queryPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create measurement request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("query measurements: unexpected status %d", resp.StatusCode)
	}

	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode measurements: %w", err)
	}

	out := make([]Measurement, 0, len(body.Measurements))
	for _, w := range body.Measurements {
		m, err := w.toMeasurement()
		if err != nil {
			return nil, fmt.Errorf("meter %s: %w", meterID, err)
		}
		out = append(out, m)
	}

	c.logger.Debug("fetched measurements",
		zap.String("meter_id", meterID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func (w wireMeasurement) toMeasurement() (Measurement, error) {
	from, err := timeparser.ParseMeterTimestamp(string(w.DateFrom))
	if err != nil {
		return Measurement{}, fmt.Errorf("dateFrom: %w", err)
	}
	to, err := timeparser.ParseMeterTimestamp(string(w.DateTo))
	if err != nil {
		return Measurement{}, fmt.Errorf("dateTo: %w", err)
	}
	return Measurement{
		MeterID:         w.MeterID,
		From:            interval.FromTime(from),
		To:              interval.FromTime(to),
		Quantity:        w.Quantity,
		QuantityMissing: w.QuantityMissing,
		Quality:         Quality(strings.ToLower(w.Quality)),
	}, nil
}

var _ Source = (*Client)(nil)
