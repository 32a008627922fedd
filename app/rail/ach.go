package rail

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

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

type ACHConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// ACHClient originates ACH debits through the bank processor. Bind
// produces a Chargeable tied to one account token and submission class.
type ACHClient struct {
	cfg    ACHConfig
	client *http.Client
}

func NewACHClient(cfg ACHConfig) *ACHClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ACHClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *ACHClient) Bind(accountRef string, sameDay bool) Chargeable {
	return &boundACH{client: c, accountRef: accountRef, sameDay: sameDay}
}

type boundACH struct {
	client     *ACHClient
	accountRef string
	sameDay    bool
}

func (b *boundACH) RailType() int32 {
	return entity.RailTypeACH
}

func (b *boundACH) Charge(ctx context.Context, amountCents int64, referenceID string, at time.Time) (*ExternalPayment, error) {
	return b.client.charge(ctx, b.accountRef, b.sameDay, amountCents, referenceID, at)
}

func (c *ACHClient) charge(ctx context.Context, accountRef string, sameDay bool, amountCents int64, referenceID string, at time.Time) (*ExternalPayment, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("ach processor api key is not configured")
	}

	submission := "next_day"
	if sameDay {
		submission = "same_day"
	}

	payload := map[string]interface{}{
		"account_ref":  accountRef,
		"amount_cents": amountCents,
		"reference_id": referenceID,
		"submission":   submission,
		"initiated_at": at.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Idempotency-Key", referenceID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var failure struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &failure) == nil && failure.Code != "" {
			return nil, declineOrGeneric("ach", failure.Code, failure.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("ach charge failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Processor string `json:"processor"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	return &ExternalPayment{
		ExternalID:  result.ID,
		Processor:   result.Processor,
		RailType:    entity.RailTypeACH,
		AmountCents: amountCents,
		Status:      parseExternalStatus(result.Status),
	}, nil
}
