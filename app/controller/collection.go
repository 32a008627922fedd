package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/balance"
	"github.com/vibast-solutions/ms-go-collections/app/collection"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/mapper"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

type CollectionController struct {
	collectionService *service.CollectionService
	logger            logrus.FieldLogger
}

func NewCollectionController(collectionService *service.CollectionService) *CollectionController {
	return &CollectionController{
		collectionService: collectionService,
		logger:            factory.NewModuleLogger("collections-controller"),
	}
}

func (c *CollectionController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *CollectionController) CollectSubscription(ctx echo.Context) error {
	return c.collect(ctx, entity.ObligationKindSubscription)
}

func (c *CollectionController) CollectAdvance(ctx echo.Context) error {
	return c.collect(ctx, entity.ObligationKindAdvance)
}

func (c *CollectionController) collect(ctx echo.Context, kind int32) error {
	req, err := types.NewCollectObligationRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	opts := service.CollectOptions{
		DebitOnly:         req.DebitOnly,
		KnownBalanceCents: req.KnownBalanceCents,
	}

	var attempt *entity.CollectionAttempt
	if kind == entity.ObligationKindAdvance {
		attempt, err = c.collectionService.CollectAdvance(ctx.Request().Context(), req.ObligationId, collection.Trigger(req.Trigger), opts)
	} else {
		attempt, err = c.collectionService.CollectSubscription(ctx.Request().Context(), req.ObligationId, collection.Trigger(req.Trigger), opts)
	}
	if err != nil {
		return c.writeCollectError(ctx, attempt, err)
	}

	return ctx.JSON(http.StatusOK, &types.AttemptEnvelopeResponse{Attempt: mapper.AttemptToResponse(attempt)})
}

func (c *CollectionController) writeCollectError(ctx echo.Context, attempt *entity.CollectionAttempt, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrObligationNotFound):
		return c.writeError(ctx, http.StatusNotFound, "obligation not found")
	case errors.Is(err, service.ErrCollectionInProgress), errors.Is(err, service.ErrObligationAlreadyPaid):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case collection.Ineligible(err):
		return c.writeError(ctx, http.StatusUnprocessableEntity, err.Error())
	}

	var rateLimited *balance.RateLimitError
	if errors.As(err, &rateLimited) {
		return c.writeError(ctx, http.StatusTooManyRequests, err.Error())
	}

	logger := factory.LoggerWithContext(c.logger, ctx)
	if attempt != nil {
		logger = logger.WithField("attempt_id", attempt.ID)
	}
	logger.WithError(err).Error("Collect obligation failed")
	return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
}

func (c *CollectionController) GetAttempt(ctx echo.Context) error {
	req, err := types.NewGetAttemptRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.collectionService.GetAttempt(ctx.Request().Context(), req.Id)
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "attempt not found")
		}
		c.logger.WithError(err).Error("Get attempt failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.AttemptEnvelopeResponse{Attempt: mapper.AttemptToResponse(item)})
}

func (c *CollectionController) ListAttempts(ctx echo.Context) error {
	req, err := types.NewListAttemptsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.collectionService.ListAttempts(ctx.Request().Context(), req.ObligationId, req.Limit)
	if err != nil {
		c.logger.WithError(err).Error("List attempts failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListAttemptsResponse{Attempts: mapper.AttemptsToResponse(items)})
}

// HandleBankConnectionEvent answers non-2xx when the event layer should
// redeliver the message; any 2xx acknowledges it.
func (c *CollectionController) HandleBankConnectionEvent(ctx echo.Context) error {
	req, err := types.NewBankConnectionEventRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.collectionService.HandleBankConnectionEvent(ctx.Request().Context(), service.BankConnectionEvent{
		EventID:    req.EventId,
		Type:       req.Type,
		UserID:     req.UserId,
		AccountRef: req.AccountRef,
	})
	if err != nil && !result.Ack {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Bank connection event deferred")
	}

	if !result.Ack {
		return ctx.JSON(http.StatusServiceUnavailable, &types.EventAckResponse{Ack: false})
	}
	return ctx.JSON(http.StatusOK, &types.EventAckResponse{Ack: true})
}

func (c *CollectionController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
