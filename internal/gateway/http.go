package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ClientOptions parameterise the marketplace HTTP client.
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client calls the marketplace pricing API over HTTP.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a marketplace pricing client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "marketplace_gateway").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type updatePriceRequest struct {
	Price string `json:"price"`
}

type updatePriceResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UpdatePrice posts the new price for a product.
func (c *Client) UpdatePrice(ctx context.Context, productID string, price decimal.Decimal) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("gateway base url not configured")
	}
	if productID == "" {
		return "", fmt.Errorf("product id required")
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("price must be positive, got %s", price)
	}

	body, err := json.Marshal(updatePriceRequest{Price: price.String()})
	if err != nil {
		return "", fmt.Errorf("marshal price update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/products/%s/price", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create price update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send price update: %w", err)
	}
	defer resp.Body.Close()

	var payload updatePriceResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode price update response: %w", decodeErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := payload.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("marketplace rejected price update: %s", msg)
	}
	if !payload.Success {
		msg := payload.Error
		if msg == "" {
			msg = "success=false"
		}
		return "", fmt.Errorf("marketplace reported failure: %s", msg)
	}

	c.logger.Debug().
		Str("product_id", productID).
		Str("price", price.String()).
		Str("request_id", payload.RequestID).
		Msg("price update accepted")
	return payload.RequestID, nil
}

var _ PriceUpdater = (*Client)(nil)
