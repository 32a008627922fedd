package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Upstream data sources the oracle refreshes balances through. The source
// tag on a rate-limit error decides retryability: mx throttles per minute,
// plaid rate limits persist for hours.
const (
	SourcePlaid = "plaid"
	SourceMX    = "mx"
)

const (
	RetryNone  int32 = 0
	RetryNow   int32 = 1
	RetryLater int32 = 2
)

type RateLimitError struct {
	Source string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("balance refresh rate limited by %s", e.Source)
}

// ClassifyRetry maps a refresh failure to a retry signal by its upstream
// source tag. Non-rate-limit errors yield RetryNone.
func ClassifyRetry(err error) int32 {
	var rateLimited *RateLimitError
	if !errors.As(err, &rateLimited) {
		return RetryNone
	}
	if rateLimited.Source == SourceMX {
		return RetryNow
	}
	return RetryLater
}

var ErrRefreshTimeout = errors.New("balance refresh timed out")

type Balances struct {
	AvailableCents int64
	CurrentCents   int64
}

type RefreshInput struct {
	AccountRef string
	Source     string
	Reason     string
	Caller     string
}

type Config struct {
	BaseURL        string
	APIKey         string
	RefreshTimeout time.Duration
}

// Client fronts the bank-data pipeline's balance-refresh capability. A
// refresh is bounded by RefreshTimeout (240s by default); a hung upstream
// call becomes ErrRefreshTimeout rather than an open-ended wait.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 240 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (c *Client) Refresh(ctx context.Context, in RefreshInput) (*Balances, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("balance oracle api key is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	payload := map[string]string{
		"account_ref": in.AccountRef,
		"source":      in.Source,
		"reason":      in.Reason,
		"caller":      in.Caller,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/balances/refresh", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return nil, ErrRefreshTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var failure struct {
			Source string `json:"source"`
		}
		source := in.Source
		if json.Unmarshal(respBody, &failure) == nil && failure.Source != "" {
			source = failure.Source
		}
		return nil, &RateLimitError{Source: source}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("balance refresh failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var result struct {
		AvailableCents int64 `json:"available_cents"`
		CurrentCents   int64 `json:"current_cents"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	return &Balances{AvailableCents: result.AvailableCents, CurrentCents: result.CurrentCents}, nil
}
