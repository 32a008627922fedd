package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collections/app/balance"
	"github.com/vibast-solutions/ms-go-collections/app/collection"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/factory"
	"github.com/vibast-solutions/ms-go-collections/app/lock"
	"github.com/vibast-solutions/ms-go-collections/app/metrics"
	"github.com/vibast-solutions/ms-go-collections/app/rail"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/config"
)

const (
	defaultBatchSize    = int32(100)
	topicPaymentCreated = "payment.created"
)

type obligationRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Obligation, error)
	Update(ctx context.Context, obligation *entity.Obligation) error
	ListDueUnpaid(ctx context.Context, now time.Time, limit int32) ([]*entity.Obligation, error)
	ListDueUnpaidByUser(ctx context.Context, userID uint64, now time.Time, limit int32) ([]*entity.Obligation, error)
}

type attemptRepository interface {
	Create(ctx context.Context, attempt *entity.CollectionAttempt) error
	Update(ctx context.Context, attempt *entity.CollectionAttempt) error
	ClearProcessing(ctx context.Context, id uint64, now time.Time) error
	FindByID(ctx context.Context, id uint64) (*entity.CollectionAttempt, error)
	ListByObligation(ctx context.Context, obligationID uint64, limit int32) ([]*entity.CollectionAttempt, error)
}

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Update(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
}

type accountRepository interface {
	FindBankAccountByUser(ctx context.Context, userID uint64) (*entity.BankAccount, error)
	UpdateBankAccountBalances(ctx context.Context, id uint64, availableCents, currentCents int64, refreshedAt time.Time) error
	DeleteBankAccountByRef(ctx context.Context, externalRef string) error
	FindValidDebitCardByUser(ctx context.Context, userID uint64) (*entity.DebitCard, error)
	InvalidateDebitCard(ctx context.Context, id uint64, reason string, now time.Time) error
}

type outboxRepository interface {
	Create(ctx context.Context, message *entity.OutboxMessage) error
	Update(ctx context.Context, message *entity.OutboxMessage) error
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.OutboxMessage, error)
}

type balanceOracle interface {
	Refresh(ctx context.Context, in balance.RefreshInput) (*balance.Balances, error)
}

type debitRail interface {
	Bind(cardRef string) rail.Chargeable
}

type achRail interface {
	Bind(accountRef string, sameDay bool) rail.Chargeable
}

type eventLocker interface {
	WithLock(ctx context.Context, key string, opts lock.Options, fn func(ctx context.Context) error) (lock.Result, error)
}

type CollectionService struct {
	obligationRepo obligationRepository
	attemptRepo    attemptRepository
	paymentRepo    paymentRepository
	accountRepo    accountRepository
	outboxRepo     outboxRepository

	oracle balanceOracle
	debit  debitRail
	ach    achRail
	locker eventLocker

	policy      collection.Policy
	cfg         config.CollectionsConfig
	serviceName string

	notifyHTTP *http.Client
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewCollectionService(
	obligationRepo obligationRepository,
	attemptRepo attemptRepository,
	paymentRepo paymentRepository,
	accountRepo accountRepository,
	outboxRepo outboxRepository,
	oracle balanceOracle,
	debit debitRail,
	ach achRail,
	locker eventLocker,
	policy collection.Policy,
	cfg config.CollectionsConfig,
	serviceName string,
) *CollectionService {
	timeout := cfg.NotifyHTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CollectionService{
		obligationRepo: obligationRepo,
		attemptRepo:    attemptRepo,
		paymentRepo:    paymentRepo,
		accountRepo:    accountRepo,
		outboxRepo:     outboxRepo,
		oracle:         oracle,
		debit:          debit,
		ach:            ach,
		locker:         locker,
		policy:         policy,
		cfg:            cfg,
		serviceName:    serviceName,
		notifyHTTP:     &http.Client{Timeout: timeout},
		logger:         factory.NewModuleLogger("collection-service"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CollectOptions tune a single orchestration run. KnownBalanceCents skips
// the oracle refresh; At pins the clock for window calculations.
type CollectOptions struct {
	DebitOnly         bool
	KnownBalanceCents *int64
	At                *time.Time
}

func (s *CollectionService) CollectSubscription(ctx context.Context, obligationID uint64, trigger collection.Trigger, opts CollectOptions) (*entity.CollectionAttempt, error) {
	return s.collectObligation(ctx, obligationID, entity.ObligationKindSubscription, trigger, opts)
}

func (s *CollectionService) CollectAdvance(ctx context.Context, obligationID uint64, trigger collection.Trigger, opts CollectOptions) (*entity.CollectionAttempt, error) {
	return s.collectObligation(ctx, obligationID, entity.ObligationKindAdvance, trigger, opts)
}

func (s *CollectionService) GetAttempt(ctx context.Context, id uint64) (*entity.CollectionAttempt, error) {
	attempt, err := s.attemptRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *CollectionService) ListAttempts(ctx context.Context, obligationID uint64, limit int32) ([]*entity.CollectionAttempt, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	return s.attemptRepo.ListByObligation(ctx, obligationID, limit)
}

func (s *CollectionService) collectObligation(ctx context.Context, obligationID uint64, kind int32, trigger collection.Trigger, opts CollectOptions) (*entity.CollectionAttempt, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", ErrInvalidRequest, trigger)
	}

	obligation, err := s.obligationRepo.FindByID(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	if obligation == nil {
		return nil, ErrObligationNotFound
	}
	if obligation.Kind != kind {
		return nil, fmt.Errorf("%w: obligation %d has kind %d", ErrInvalidRequest, obligationID, obligation.Kind)
	}

	now := s.now()
	if opts.At != nil {
		now = *opts.At
	}

	if obligation.Paid {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonAlreadyPaid)
		return nil, ErrObligationAlreadyPaid
	}
	if !s.policy.WithinCollectionWindow(obligation.DueAt, now) {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonOutsideWindow)
		return nil, collection.ErrObligationTooOld
	}

	card, err := s.accountRepo.FindValidDebitCardByUser(ctx, obligation.UserID)
	if err != nil {
		return nil, err
	}
	bankAccount, err := s.accountRepo.FindBankAccountByUser(ctx, obligation.UserID)
	if err != nil {
		return nil, err
	}

	debitAvailable := card != nil
	achAvailable := bankAccount != nil
	if !debitAvailable && !achAvailable {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonNoEligibleRail)
		return nil, collection.ErrNoEligibleRail
	}

	// With no debit card the only constructible rail is a bank charge;
	// when both submission windows are closed there is nothing to select,
	// so don't spend a rate-limited refresh finding that out.
	if !debitAvailable && !s.policy.SubmissionWindowOpen(now) {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonNoEligibleRail)
		return nil, collection.ErrOutsideACHWindow
	}

	balanceCents, haveBalance, err := s.resolveBalance(ctx, bankAccount, trigger, opts, now)
	if err != nil {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonBalanceRefresh)
		return nil, err
	}

	if haveBalance && balanceCents < s.policy.MinBalanceCents(debitAvailable) {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonBalanceTooLow)
		return nil, collection.ErrBalanceTooLow
	}

	decision, err := s.policy.SelectStrategy(collection.StrategyInputs{
		DebitAvailable: debitAvailable,
		ACHAvailable:   achAvailable,
		BalanceCents:   balanceCents,
		Trigger:        trigger,
		DebitOnly:      opts.DebitOnly,
		Now:            now,
	})
	if err != nil {
		metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonNoEligibleRail)
		return nil, err
	}

	chargeOp := s.buildChargeOperation(decision, card, bankAccount, trigger, balanceCents)
	attempt, err := s.collect(ctx, obligation, chargeOp, decision, trigger, now)

	if attempt != nil && card != nil && attempt.Extra[extraDeclineCode] == rail.DeclineExpiredCard {
		if invErr := s.accountRepo.InvalidateDebitCard(ctx, card.ID, rail.DeclineExpiredCard, s.now()); invErr != nil {
			s.logger.WithError(invErr).WithField("card_id", card.ID).Error("Failed to invalidate expired debit card")
		}
	}

	return attempt, err
}

// resolveBalance returns the balance the strategy selector should see. A
// caller-provided balance wins; otherwise the oracle is asked, but only
// when a bank account exists to refresh against.
func (s *CollectionService) resolveBalance(ctx context.Context, bankAccount *entity.BankAccount, trigger collection.Trigger, opts CollectOptions, now time.Time) (int64, bool, error) {
	if opts.KnownBalanceCents != nil {
		return *opts.KnownBalanceCents, true, nil
	}
	if bankAccount == nil {
		return 0, false, nil
	}

	balances, err := s.oracle.Refresh(ctx, balance.RefreshInput{
		AccountRef: bankAccount.ExternalRef,
		Source:     bankAccount.Source,
		Reason:     string(trigger),
		Caller:     s.serviceName,
	})
	if err != nil {
		return 0, false, err
	}

	if err := s.accountRepo.UpdateBankAccountBalances(ctx, bankAccount.ID, balances.AvailableCents, balances.CurrentCents, now); err != nil {
		s.logger.WithError(err).WithField("bank_account_id", bankAccount.ID).Warn("Failed to store refreshed balances")
	}

	return balances.AvailableCents, true, nil
}

func (s *CollectionService) buildChargeOperation(decision collection.Decision, card *entity.DebitCard, bankAccount *entity.BankAccount, trigger collection.Trigger, balanceCents int64) rail.Chargeable {
	sameDay := decision.Submission == collection.SubmissionSameDay

	switch decision.Strategy {
	case collection.StrategyACHForced:
		return rail.NewFallback(
			s.ach.Bind(bankAccount.ExternalRef, sameDay),
			s.debit.Bind(card.ExternalRef),
			rail.ForcedACHEscalationPolicy(),
		)
	case collection.StrategyDebitThenACHNextDay:
		return rail.NewFallback(
			s.debit.Bind(card.ExternalRef),
			s.ach.Bind(bankAccount.ExternalRef, false),
			rail.NextDayEscalationPolicy(),
		)
	case collection.StrategyDebitThenACHSameDay:
		return rail.NewFallback(
			s.debit.Bind(card.ExternalRef),
			s.ach.Bind(bankAccount.ExternalRef, true),
			rail.SameDayEscalationPolicy(trigger, balanceCents, s.policy.FallbackRiskBalanceCents),
		)
	case collection.StrategyACHNextDay, collection.StrategyACHSameDay:
		return s.ach.Bind(bankAccount.ExternalRef, sameDay)
	default:
		return s.debit.Bind(card.ExternalRef)
	}
}

const (
	extraError            = "error"
	extraDeclineCode      = "decline_code"
	extraDeclineProcessor = "decline_processor"
)

// collect is the guarded core: one attempt row, one payment placeholder,
// one rail invocation. Charge and recording failures complete the attempt
// with a failure outcome instead of returning an error; only conflicts and
// contract violations propagate.
func (s *CollectionService) collect(ctx context.Context, obligation *entity.Obligation, chargeOp rail.Chargeable, decision collection.Decision, trigger collection.Trigger, now time.Time) (*entity.CollectionAttempt, error) {
	strategy := string(decision.Strategy)
	processing := int32(1)
	attempt := &entity.CollectionAttempt{
		ObligationID:   obligation.ID,
		IdempotencyKey: uuid.NewString(),
		Trigger:        string(trigger),
		Processing:     &processing,
		Strategy:       &strategy,
		Outcome:        entity.AttemptOutcomePending,
		Extra:          map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrAttemptInProgress) {
			metrics.CollectionFailure(ctx, string(trigger), entity.FailureReasonInProgress)
			return nil, ErrCollectionInProgress
		}
		return nil, err
	}

	// The uniqueness guard is a narrow-window mutex, not a permanent
	// lock: the marker clears on every exit path.
	defer func() {
		attempt.Processing = nil
		if err := s.attemptRepo.ClearProcessing(ctx, attempt.ID, s.now()); err != nil {
			s.logger.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to clear processing flag")
		}
	}()

	fresh, err := s.obligationRepo.FindByID(ctx, obligation.ID)
	if err != nil {
		s.failAttempt(ctx, attempt, trigger, entity.FailureReasonRecordingFailed, err)
		return attempt, err
	}
	if fresh == nil {
		return attempt, ErrObligationNotFound
	}
	if fresh.Paid {
		s.failAttempt(ctx, attempt, trigger, entity.FailureReasonAlreadyPaid, nil)
		return attempt, ErrObligationAlreadyPaid
	}

	amountCents := fresh.CollectibleCents()
	payment := &entity.Payment{
		UserID:       fresh.UserID,
		ObligationID: fresh.ID,
		ReferenceID:  uuid.NewString(),
		RailType:     chargeOp.RailType(),
		AmountCents:  amountCents,
		Status:       entity.PaymentStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		s.failAttempt(ctx, attempt, trigger, entity.FailureReasonPaymentCreate, err)
		return attempt, nil
	}

	// Link the placeholder immediately: a failed charge and a charge
	// that succeeded but could not be recorded must stay distinguishable.
	attempt.PaymentID = &payment.ID

	external, chargeErr := chargeOp.Charge(ctx, amountCents, payment.ReferenceID, now)
	if chargeErr != nil {
		if decline := rail.AsDecline(chargeErr); decline != nil {
			code := decline.Code
			payment.DeclineCode = &code
			attempt.Extra[extraDeclineCode] = decline.Code
			attempt.Extra[extraDeclineProcessor] = decline.Processor
		}
		payment.Status = entity.PaymentStatusCanceled
		payment.UpdatedAt = s.now()
		if err := s.paymentRepo.Update(ctx, payment); err != nil {
			s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to cancel placeholder payment")
		}
		s.failAttempt(ctx, attempt, trigger, entity.FailureReasonChargeFailed, chargeErr)
		return attempt, nil
	}

	payment.Status = external.Status
	payment.RailType = external.RailType
	externalID := external.ExternalID
	processor := external.Processor
	payment.ExternalID = &externalID
	payment.Processor = &processor
	payment.UpdatedAt = s.now()
	if err := s.paymentRepo.Update(ctx, payment); err != nil {
		s.failAttempt(ctx, attempt, trigger, entity.FailureReasonRecordingFailed, err)
		return attempt, nil
	}

	fresh.Paid = true
	fresh.PaymentID = &payment.ID
	if fresh.Kind == entity.ObligationKindAdvance {
		fresh.OutstandingCents = 0
	}
	fresh.UpdatedAt = s.now()
	if err := s.obligationRepo.Update(ctx, fresh); err != nil {
		s.failAttempt(ctx, attempt, trigger, entity.FailureReasonRecordingFailed, err)
		return attempt, nil
	}

	attempt.Outcome = entity.AttemptOutcomeSuccess
	attempt.UpdatedAt = s.now()
	if err := s.attemptRepo.Update(ctx, attempt); err != nil {
		s.logger.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to record attempt outcome")
	}

	metrics.CollectionSuccess(ctx, string(trigger))
	s.enqueuePaymentNotification(ctx, payment, now)
	return attempt, nil
}

func (s *CollectionService) failAttempt(ctx context.Context, attempt *entity.CollectionAttempt, trigger collection.Trigger, reason string, cause error) {
	attempt.Outcome = entity.AttemptOutcomeFailure
	attempt.FailureReason = &reason
	if cause != nil {
		attempt.Extra[extraError] = truncate(cause.Error(), 1024)
	}
	attempt.UpdatedAt = s.now()

	if err := s.attemptRepo.Update(ctx, attempt); err != nil {
		s.logger.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to record attempt failure")
	}

	metrics.CollectionFailure(ctx, string(trigger), reason)
	entry := s.logger.WithFields(logrus.Fields{
		"attempt_id":    attempt.ID,
		"obligation_id": attempt.ObligationID,
		"trigger":       attempt.Trigger,
		"reason":        reason,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("collection_failed")
}

// enqueuePaymentNotification is fire-and-forget: the outbox dispatch job
// owns delivery and a failed enqueue never fails the attempt.
func (s *CollectionService) enqueuePaymentNotification(ctx context.Context, payment *entity.Payment, now time.Time) {
	payload, err := json.Marshal(map[string]interface{}{
		"payment_id":    payment.ID,
		"obligation_id": payment.ObligationID,
		"user_id":       payment.UserID,
		"amount_cents":  payment.AmountCents,
		"status":        payment.Status,
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to encode payment notification")
		return
	}

	message := &entity.OutboxMessage{
		MessageID:     uuid.NewString(),
		Topic:         topicPaymentCreated,
		PayloadJSON:   string(payload),
		Status:        entity.OutboxStatusPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.outboxRepo.Create(ctx, message); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to enqueue payment notification")
	}
}

func (s *CollectionService) batchSize() int32 {
	if s.cfg.JobBatchSize > 0 {
		return s.cfg.JobBatchSize
	}
	return defaultBatchSize
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
