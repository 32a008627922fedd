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

type DebitConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// DebitClient charges debit cards through the card processor's direct
// API. Bind produces a Chargeable tied to one card token.
type DebitClient struct {
	cfg    DebitConfig
	client *http.Client
}

func NewDebitClient(cfg DebitConfig) *DebitClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DebitClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *DebitClient) Bind(cardRef string) Chargeable {
	return &boundDebit{client: c, cardRef: cardRef}
}

type boundDebit struct {
	client  *DebitClient
	cardRef string
}

func (b *boundDebit) RailType() int32 {
	return entity.RailTypeDebit
}

func (b *boundDebit) Charge(ctx context.Context, amountCents int64, referenceID string, at time.Time) (*ExternalPayment, error) {
	return b.client.charge(ctx, b.cardRef, amountCents, referenceID, at)
}

func (c *DebitClient) charge(ctx context.Context, cardRef string, amountCents int64, referenceID string, at time.Time) (*ExternalPayment, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("debit processor api key is not configured")
	}

	payload := map[string]interface{}{
		"card_ref":     cardRef,
		"amount_cents": amountCents,
		"reference_id": referenceID,
		"initiated_at": at.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/charges", bytes.NewReader(body))
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
			return nil, declineOrGeneric("debit", failure.Code, failure.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("debit charge failed: status=%d body=%s", resp.StatusCode, string(respBody))
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
		RailType:    entity.RailTypeDebit,
		AmountCents: amountCents,
		Status:      parseExternalStatus(result.Status),
	}, nil
}
