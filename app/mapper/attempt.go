package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

func AttemptToResponse(item *entity.CollectionAttempt) *types.CollectionAttempt {
	if item == nil {
		return nil
	}

	return &types.CollectionAttempt{
		Id:             item.ID,
		ObligationId:   item.ObligationID,
		IdempotencyKey: item.IdempotencyKey,
		Trigger:        item.Trigger,
		Strategy:       derefString(item.Strategy),
		PaymentId:      derefUint64(item.PaymentID),
		Outcome:        item.Outcome,
		FailureReason:  derefString(item.FailureReason),
		Extra:          cloneExtra(item.Extra),
		CreatedAt:      item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func AttemptsToResponse(items []*entity.CollectionAttempt) []*types.CollectionAttempt {
	result := make([]*types.CollectionAttempt, 0, len(items))
	for _, item := range items {
		result = append(result, AttemptToResponse(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func cloneExtra(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
