package types

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CollectionAttempt struct {
	Id             uint64            `json:"id"`
	ObligationId   uint64            `json:"obligation_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Trigger        string            `json:"trigger"`
	Strategy       string            `json:"strategy,omitempty"`
	PaymentId      uint64            `json:"payment_id,omitempty"`
	Outcome        int32             `json:"outcome"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
}

type AttemptEnvelopeResponse struct {
	Attempt *CollectionAttempt `json:"attempt"`
}

type ListAttemptsResponse struct {
	Attempts []*CollectionAttempt `json:"attempts"`
}

type EventAckResponse struct {
	Ack bool `json:"ack"`
}

type CollectObligationRequest struct {
	ObligationId      uint64 `json:"-"`
	Trigger           string `json:"trigger"`
	DebitOnly         bool   `json:"debit_only"`
	KnownBalanceCents *int64 `json:"known_balance_cents"`
}

func NewCollectObligationRequestFromContext(ctx echo.Context) (*CollectObligationRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body CollectObligationRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.ObligationId = id
	body.Trigger = strings.TrimSpace(strings.ToLower(body.Trigger))

	return &body, nil
}

func (r *CollectObligationRequest) Validate() error {
	if r.ObligationId == 0 {
		return errors.New("invalid obligation id")
	}
	if r.Trigger == "" {
		return errors.New("trigger is required")
	}
	if r.KnownBalanceCents != nil && *r.KnownBalanceCents < 0 {
		return errors.New("known_balance_cents must be >= 0")
	}
	return nil
}

type GetAttemptRequest struct {
	Id uint64
}

func NewGetAttemptRequestFromContext(ctx echo.Context) (*GetAttemptRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetAttemptRequest{Id: id}, nil
}

func (r *GetAttemptRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid attempt id")
	}
	return nil
}

type ListAttemptsRequest struct {
	ObligationId uint64
	Limit        int32
}

func NewListAttemptsRequestFromContext(ctx echo.Context) (*ListAttemptsRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	req := &ListAttemptsRequest{ObligationId: id, Limit: 100}
	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}
	return req, nil
}

func (r *ListAttemptsRequest) Validate() error {
	if r.ObligationId == 0 {
		return errors.New("invalid obligation id")
	}
	if r.Limit <= 0 || r.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	return nil
}

type BankConnectionEventRequest struct {
	EventId    string `json:"event_id"`
	Type       string `json:"type"`
	UserId     uint64 `json:"user_id"`
	AccountRef string `json:"account_ref"`
}

func NewBankConnectionEventRequestFromContext(ctx echo.Context) (*BankConnectionEventRequest, error) {
	var body BankConnectionEventRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.EventId = strings.TrimSpace(body.EventId)
	if body.EventId == "" {
		body.EventId = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	body.Type = strings.TrimSpace(strings.ToLower(body.Type))
	body.AccountRef = strings.TrimSpace(body.AccountRef)

	return &body, nil
}

func (r *BankConnectionEventRequest) Validate() error {
	if r.EventId == "" {
		return errors.New("event_id is required")
	}
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.UserId == 0 {
		return errors.New("user_id is required")
	}
	if r.AccountRef == "" {
		return errors.New("account_ref is required")
	}
	return nil
}
