package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/collection"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

// RunCollectDueBatch sweeps due, unpaid obligations under the daily-job
// trigger. Expected terminal outcomes (conflicts, ineligibility) are not
// errors for the batch; it returns how many obligations were processed and
// how many attempts succeeded.
func (s *CollectionService) RunCollectDueBatch(ctx context.Context) (processed, succeeded int, err error) {
	obligations, err := s.obligationRepo.ListDueUnpaid(ctx, s.now(), s.batchSize())
	if err != nil {
		return 0, 0, err
	}

	for _, obligation := range obligations {
		processed++
		attempt, err := s.collectObligation(ctx, obligation.ID, obligation.Kind, collection.TriggerDailyJob, CollectOptions{})
		if err != nil {
			if !expectedCollectionFailure(err) {
				s.logger.WithError(err).WithField("obligation_id", obligation.ID).Warn("Daily collection failed")
			}
			continue
		}
		if attempt != nil && attempt.Outcome == entity.AttemptOutcomeSuccess {
			succeeded++
		}
	}
	return processed, succeeded, nil
}

// RunDispatchOutboxBatch delivers due outbox messages to the notification
// endpoint. Delivery failures reschedule the message until the attempt
// budget is exhausted, then park it as failed with the last error kept for
// inspection.
func (s *CollectionService) RunDispatchOutboxBatch(ctx context.Context) (dispatched int, err error) {
	if s.cfg.NotifyURL == "" {
		return 0, nil
	}

	now := s.now()
	messages, err := s.outboxRepo.ListDue(ctx, now, s.batchSize())
	if err != nil {
		return 0, err
	}

	for _, message := range messages {
		deliverErr := s.deliverNotification(ctx, message)
		if deliverErr == nil {
			message.Status = entity.OutboxStatusSent
			message.NextAttemptAt = nil
			message.LastError = nil
			message.Attempts++
			message.UpdatedAt = s.now()
			if err := s.outboxRepo.Update(ctx, message); err != nil {
				s.logger.WithError(err).WithField("message_id", message.MessageID).Error("Failed to mark outbox message sent")
				continue
			}
			dispatched++
			continue
		}

		message.Attempts++
		lastError := truncate(deliverErr.Error(), 1024)
		message.LastError = &lastError
		if message.Attempts >= s.outboxMaxAttempts() {
			message.Status = entity.OutboxStatusFailed
			message.NextAttemptAt = nil
		} else {
			next := s.now().Add(s.outboxRetryInterval())
			message.NextAttemptAt = &next
		}
		message.UpdatedAt = s.now()
		if err := s.outboxRepo.Update(ctx, message); err != nil {
			s.logger.WithError(err).WithField("message_id", message.MessageID).Error("Failed to record outbox delivery failure")
			continue
		}
		s.logger.WithError(deliverErr).WithFields(logrus.Fields{
			"message_id": message.MessageID,
			"topic":      message.Topic,
			"attempts":   message.Attempts,
		}).Warn("Outbox delivery failed")
	}
	return dispatched, nil
}

func (s *CollectionService) deliverNotification(ctx context.Context, message *entity.OutboxMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.NotifyURL, bytes.NewReader([]byte(message.PayloadJSON)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Message-Id", message.MessageID)
	req.Header.Set("X-Topic", message.Topic)

	resp, err := s.notifyHTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *CollectionService) outboxMaxAttempts() int32 {
	if s.cfg.OutboxMaxAttempts > 0 {
		return s.cfg.OutboxMaxAttempts
	}
	return 5
}

func (s *CollectionService) outboxRetryInterval() time.Duration {
	if s.cfg.OutboxRetryInterval > 0 {
		return s.cfg.OutboxRetryInterval
	}
	return 15 * time.Minute
}
