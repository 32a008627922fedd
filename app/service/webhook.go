package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/balance"
	"github.com/vibast-solutions/ms-go-collections/app/collection"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/lock"
	"github.com/vibast-solutions/ms-go-collections/app/metrics"
)

const (
	EventBankConnectionUpdated = "bank_connection.updated"
	EventBankConnectionRemoved = "bank_connection.removed"
)

type BankConnectionEvent struct {
	EventID    string
	Type       string
	UserID     uint64
	AccountRef string
}

// EventResult tells the transport what to do with the message. Ack false
// requests redelivery.
type EventResult struct {
	Ack bool
}

// HandleBankConnectionEvent serializes processing of one bank connection's
// webhook stream behind the distributed lock. The transport redelivers
// only when the balance source says retry-now or when a removal event hit
// a lock conflict; every other failure is terminal for the message.
func (s *CollectionService) HandleBankConnectionEvent(ctx context.Context, event BankConnectionEvent) (EventResult, error) {
	if event.AccountRef == "" {
		return EventResult{Ack: true}, fmt.Errorf("%w: event %s has no account reference", ErrInvalidRequest, event.EventID)
	}

	key := "bank-connection:" + event.AccountRef
	logger := s.logger.WithFields(logrus.Fields{
		"event_id":    event.EventID,
		"event_type":  event.Type,
		"account_ref": event.AccountRef,
	})

	switch event.Type {
	case EventBankConnectionRemoved:
		// Removal must not interleave with an in-flight update for the
		// same connection; a conflict asks for redelivery instead of
		// waiting out the holder.
		result, err := s.locker.WithLock(ctx, key, lock.Options{
			Mode: lock.ModeReturn,
			TTL:  s.cfg.EventLockTTL,
		}, func(ctx context.Context) error {
			return s.accountRepo.DeleteBankAccountByRef(ctx, event.AccountRef)
		})
		if err != nil {
			logger.WithError(err).Error("Bank connection removal failed")
			return EventResult{Ack: true}, err
		}
		if result.Conflict {
			logger.Warn("Bank connection removal conflicted with a concurrent holder")
			return EventResult{Ack: false}, nil
		}
		logger.Info("Bank connection removed")
		return EventResult{Ack: true}, nil

	case EventBankConnectionUpdated:
		var retrySignal int32
		result, err := s.locker.WithLock(ctx, key, lock.Options{
			Mode:    lock.ModeWait,
			MaxWait: s.cfg.EventLockMaxWait,
			Sleep:   s.cfg.EventLockSleep,
			TTL:     s.cfg.EventLockTTL,
		}, func(ctx context.Context) error {
			signal, err := s.collectOnBankUpdate(ctx, event)
			retrySignal = signal
			return err
		})
		if err != nil {
			logger.WithError(err).Warn("Bank connection update processing failed")
		}
		if retrySignal == balance.RetryNow {
			return EventResult{Ack: false}, err
		}
		if !result.Completed {
			// Wait window exhausted without a removal in play; the next
			// scheduled trigger covers the obligation.
			logger.Warn("Bank connection update skipped, lock wait exhausted")
		}
		return EventResult{Ack: true}, err

	default:
		return EventResult{Ack: true}, fmt.Errorf("%w: unknown event type %q", ErrInvalidRequest, event.Type)
	}
}

// collectOnBankUpdate refreshes the connection's balance and sweeps the
// user's due obligations under the bank-account-update trigger. The retry
// signal is derived from the refresh failure's upstream source.
func (s *CollectionService) collectOnBankUpdate(ctx context.Context, event BankConnectionEvent) (int32, error) {
	bankAccount, err := s.accountRepo.FindBankAccountByUser(ctx, event.UserID)
	if err != nil {
		return balance.RetryNone, err
	}
	if bankAccount == nil || bankAccount.ExternalRef != event.AccountRef {
		return balance.RetryNone, nil
	}

	now := s.now()
	balances, err := s.oracle.Refresh(ctx, balance.RefreshInput{
		AccountRef: bankAccount.ExternalRef,
		Source:     bankAccount.Source,
		Reason:     string(collection.TriggerBankAccountUpdate),
		Caller:     s.serviceName,
	})
	if err != nil {
		metrics.CollectionFailure(ctx, string(collection.TriggerBankAccountUpdate), entity.FailureReasonBalanceRefresh)
		return balance.ClassifyRetry(err), err
	}

	if err := s.accountRepo.UpdateBankAccountBalances(ctx, bankAccount.ID, balances.AvailableCents, balances.CurrentCents, now); err != nil {
		s.logger.WithError(err).WithField("bank_account_id", bankAccount.ID).Warn("Failed to store refreshed balances")
	}

	obligations, err := s.obligationRepo.ListDueUnpaidByUser(ctx, event.UserID, now, s.batchSize())
	if err != nil {
		return balance.RetryNone, err
	}

	known := balances.AvailableCents
	for _, obligation := range obligations {
		_, err := s.collectObligation(ctx, obligation.ID, obligation.Kind, collection.TriggerBankAccountUpdate, CollectOptions{
			KnownBalanceCents: &known,
		})
		if err != nil && !expectedCollectionFailure(err) {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"obligation_id": obligation.ID,
				"user_id":       event.UserID,
			}).Warn("Collection on bank update failed")
		}
	}
	return balance.RetryNone, nil
}

// expectedCollectionFailure covers the terminal outcomes a webhook sweep
// tolerates without noise: conflicts and ineligibility.
func expectedCollectionFailure(err error) bool {
	return errors.Is(err, ErrCollectionInProgress) ||
		errors.Is(err, ErrObligationAlreadyPaid) ||
		collection.Ineligible(err)
}
