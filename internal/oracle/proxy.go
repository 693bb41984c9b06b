package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/domain"
)

const requestPath = "/v1/randomness"

// ProxyConfig configures a ProxyClient.
type ProxyConfig struct {
	BaseURL     string
	CallbackURL string
	APIKey      string
	APISecret   string
	Timeout     time.Duration
}

// ProxyClient forwards randomness requests to an external oracle proxy,
// which later POSTs a signed Delivery to CallbackURL.
type ProxyClient struct {
	baseURL     string
	callbackURL string
	auth        *crypto.HMACAuth
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewProxyClient creates a ProxyClient.
func NewProxyClient(cfg ProxyConfig, logger *slog.Logger) (*ProxyClient, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("oracle: proxy base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProxyClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		callbackURL: cfg.CallbackURL,
		auth:        &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With(slog.String("component", "oracle_proxy")),
	}, nil
}

type proxyFee struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type proxyRequest struct {
	RequestID   string     `json:"request_id"`
	JobID       string     `json:"job_id"`
	Fee         []proxyFee `json:"fee"`
	CallbackURL string     `json:"callback_url"`
}

// RequestRandomness implements domain.RandomnessOracle.
func (c *ProxyClient) RequestRandomness(ctx context.Context, jobID string, fee domain.Funds) error {
	req := proxyRequest{
		RequestID:   uuid.NewString(),
		JobID:       jobID,
		Fee:         make([]proxyFee, 0, len(fee)),
		CallbackURL: c.callbackURL,
	}
	for _, coin := range fee {
		amount := "0"
		if coin.Amount != nil {
			amount = coin.Amount.Dec()
		}
		req.Fee = append(req.Fee, proxyFee{Denom: coin.Denom, Amount: amount})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("oracle: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("oracle: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", req.RequestID)
	for k, v := range c.auth.Headers(http.MethodPost, requestPath, string(body)) {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("oracle: request job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("oracle: request job %s: status %d: %s", jobID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.logger.InfoContext(ctx, "oracle_proxy: randomness requested",
		slog.String("job_id", jobID),
		slog.String("request_id", req.RequestID),
	)
	return nil
}

var _ domain.RandomnessOracle = (*ProxyClient)(nil)
