package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/balance"
	"github.com/vibast-solutions/ms-go-collections/app/collection"
	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/lock"
	"github.com/vibast-solutions/ms-go-collections/app/rail"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/config"
)

type fakeObligationRepo struct {
	items      map[uint64]*entity.Obligation
	failUpdate error
}

func newFakeObligationRepo() *fakeObligationRepo {
	return &fakeObligationRepo{items: map[uint64]*entity.Obligation{}}
}

func (r *fakeObligationRepo) put(item *entity.Obligation) {
	copyItem := *item
	r.items[item.ID] = &copyItem
}

func (r *fakeObligationRepo) FindByID(_ context.Context, id uint64) (*entity.Obligation, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeObligationRepo) Update(_ context.Context, obligation *entity.Obligation) error {
	if r.failUpdate != nil {
		return r.failUpdate
	}
	if _, ok := r.items[obligation.ID]; !ok {
		return repository.ErrObligationNotFound
	}
	copyItem := *obligation
	r.items[obligation.ID] = &copyItem
	return nil
}

func (r *fakeObligationRepo) ListDueUnpaid(_ context.Context, now time.Time, limit int32) ([]*entity.Obligation, error) {
	items := make([]*entity.Obligation, 0)
	for _, item := range r.items {
		if item.Paid || item.DueAt.After(now) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

func (r *fakeObligationRepo) ListDueUnpaidByUser(_ context.Context, userID uint64, now time.Time, limit int32) ([]*entity.Obligation, error) {
	items := make([]*entity.Obligation, 0)
	for _, item := range r.items {
		if item.UserID != userID || item.Paid || item.DueAt.After(now) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

type fakeAttemptRepo struct {
	items      map[uint64]*entity.CollectionAttempt
	nextID     uint64
	failCreate error
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{items: map[uint64]*entity.CollectionAttempt{}, nextID: 1}
}

func (r *fakeAttemptRepo) Create(_ context.Context, attempt *entity.CollectionAttempt) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	for _, item := range r.items {
		if item.ObligationID == attempt.ObligationID && item.Processing != nil {
			return repository.ErrAttemptInProgress
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *attempt
	copyItem.ID = id
	r.items[id] = &copyItem
	attempt.ID = id
	return nil
}

func (r *fakeAttemptRepo) Update(_ context.Context, attempt *entity.CollectionAttempt) error {
	if _, ok := r.items[attempt.ID]; !ok {
		return repository.ErrAttemptNotFound
	}
	copyItem := *attempt
	r.items[attempt.ID] = &copyItem
	return nil
}

func (r *fakeAttemptRepo) ClearProcessing(_ context.Context, id uint64, _ time.Time) error {
	item, ok := r.items[id]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	item.Processing = nil
	return nil
}

func (r *fakeAttemptRepo) FindByID(_ context.Context, id uint64) (*entity.CollectionAttempt, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeAttemptRepo) ListByObligation(_ context.Context, obligationID uint64, limit int32) ([]*entity.CollectionAttempt, error) {
	items := make([]*entity.CollectionAttempt, 0)
	for _, item := range r.items {
		if item.ObligationID != obligationID {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

type fakePaymentRepo struct {
	items      map[uint64]*entity.Payment
	nextID     uint64
	failCreate error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{items: map[uint64]*entity.Payment{}, nextID: 1}
}

func (r *fakePaymentRepo) Create(_ context.Context, payment *entity.Payment) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	id := r.nextID
	r.nextID++
	copyItem := *payment
	copyItem.ID = id
	r.items[id] = &copyItem
	payment.ID = id
	return nil
}

func (r *fakePaymentRepo) Update(_ context.Context, payment *entity.Payment) error {
	if _, ok := r.items[payment.ID]; !ok {
		return repository.ErrPaymentNotFound
	}
	copyItem := *payment
	r.items[payment.ID] = &copyItem
	return nil
}

func (r *fakePaymentRepo) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

type fakeAccountRepo struct {
	bank        *entity.BankAccount
	card        *entity.DebitCard
	deletedRefs []string
}

func (r *fakeAccountRepo) FindBankAccountByUser(_ context.Context, userID uint64) (*entity.BankAccount, error) {
	if r.bank == nil || r.bank.UserID != userID {
		return nil, nil
	}
	copyItem := *r.bank
	return &copyItem, nil
}

func (r *fakeAccountRepo) UpdateBankAccountBalances(_ context.Context, id uint64, availableCents, currentCents int64, refreshedAt time.Time) error {
	if r.bank == nil || r.bank.ID != id {
		return repository.ErrBankAccountNotFound
	}
	r.bank.AvailableCents = &availableCents
	r.bank.CurrentCents = &currentCents
	r.bank.BalanceRefreshedAt = &refreshedAt
	return nil
}

func (r *fakeAccountRepo) DeleteBankAccountByRef(_ context.Context, externalRef string) error {
	r.deletedRefs = append(r.deletedRefs, externalRef)
	if r.bank != nil && r.bank.ExternalRef == externalRef {
		r.bank = nil
	}
	return nil
}

func (r *fakeAccountRepo) FindValidDebitCardByUser(_ context.Context, userID uint64) (*entity.DebitCard, error) {
	if r.card == nil || r.card.UserID != userID || r.card.Invalid {
		return nil, nil
	}
	copyItem := *r.card
	return &copyItem, nil
}

func (r *fakeAccountRepo) InvalidateDebitCard(_ context.Context, id uint64, reason string, _ time.Time) error {
	if r.card == nil || r.card.ID != id {
		return repository.ErrDebitCardNotFound
	}
	r.card.Invalid = true
	r.card.InvalidReason = &reason
	return nil
}

type fakeOutboxRepo struct {
	items  map[uint64]*entity.OutboxMessage
	nextID uint64
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{items: map[uint64]*entity.OutboxMessage{}, nextID: 1}
}

func (r *fakeOutboxRepo) Create(_ context.Context, message *entity.OutboxMessage) error {
	id := r.nextID
	r.nextID++
	copyItem := *message
	copyItem.ID = id
	r.items[id] = &copyItem
	message.ID = id
	return nil
}

func (r *fakeOutboxRepo) Update(_ context.Context, message *entity.OutboxMessage) error {
	if _, ok := r.items[message.ID]; !ok {
		return repository.ErrOutboxMessageNotFound
	}
	copyItem := *message
	r.items[message.ID] = &copyItem
	return nil
}

func (r *fakeOutboxRepo) ListDue(_ context.Context, now time.Time, limit int32) ([]*entity.OutboxMessage, error) {
	items := make([]*entity.OutboxMessage, 0)
	for _, item := range r.items {
		if item.Status != entity.OutboxStatusPending || item.NextAttemptAt == nil || item.NextAttemptAt.After(now) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

type fakeOracle struct {
	balances *balance.Balances
	err      error
	calls    int
}

func (o *fakeOracle) Refresh(_ context.Context, _ balance.RefreshInput) (*balance.Balances, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	copyItem := *o.balances
	return &copyItem, nil
}

type stubChargeable struct {
	railType int32
	calls    int
	err      error
}

func (s *stubChargeable) RailType() int32 { return s.railType }

func (s *stubChargeable) Charge(_ context.Context, amountCents int64, referenceID string, _ time.Time) (*rail.ExternalPayment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &rail.ExternalPayment{
		ExternalID:  "ext-" + referenceID,
		Processor:   "processor-test",
		RailType:    s.railType,
		AmountCents: amountCents,
		Status:      entity.PaymentStatusCompleted,
	}, nil
}

type fakeDebitRail struct {
	stub *stubChargeable
}

func (f *fakeDebitRail) Bind(_ string) rail.Chargeable { return f.stub }

type fakeACHRail struct {
	stub    *stubChargeable
	sameDay bool
}

func (f *fakeACHRail) Bind(_ string, sameDay bool) rail.Chargeable {
	f.sameDay = sameDay
	return f.stub
}

type fakeLocker struct {
	conflict bool
	calls    int
	lastKey  string
	lastMode int32
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, opts lock.Options, fn func(ctx context.Context) error) (lock.Result, error) {
	l.calls++
	l.lastKey = key
	l.lastMode = opts.Mode
	if l.conflict {
		return lock.Result{Conflict: true}, nil
	}
	return lock.Result{Completed: true}, fn(ctx)
}

type testEnv struct {
	svc         *CollectionService
	obligations *fakeObligationRepo
	attempts    *fakeAttemptRepo
	payments    *fakePaymentRepo
	accounts    *fakeAccountRepo
	outbox      *fakeOutboxRepo
	oracle      *fakeOracle
	debit       *fakeDebitRail
	ach         *fakeACHRail
	locker      *fakeLocker
	now         time.Time
}

// mondayMorning is within the same-day window (before 14:00 local) and
// inside the next-day window as well.
func mondayMorning(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(2026, time.March, 2, 9, 0, 0, 0, loc)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		obligations: newFakeObligationRepo(),
		attempts:    newFakeAttemptRepo(),
		payments:    newFakePaymentRepo(),
		accounts:    &fakeAccountRepo{},
		outbox:      newFakeOutboxRepo(),
		oracle:      &fakeOracle{balances: &balance.Balances{AvailableCents: 5000, CurrentCents: 5000}},
		debit:       &fakeDebitRail{stub: &stubChargeable{railType: entity.RailTypeDebit}},
		ach:         &fakeACHRail{stub: &stubChargeable{railType: entity.RailTypeACH}},
		locker:      &fakeLocker{},
		now:         mondayMorning(t),
	}

	env.svc = NewCollectionService(
		env.obligations,
		env.attempts,
		env.payments,
		env.accounts,
		env.outbox,
		env.oracle,
		env.debit,
		env.ach,
		env.locker,
		collection.DefaultPolicy(),
		config.CollectionsConfig{JobBatchSize: 10, OutboxMaxAttempts: 2, OutboxRetryInterval: 5 * time.Minute},
		"collections-test",
	)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) addObligation(id, userID uint64, kind int32, amountCents int64) *entity.Obligation {
	item := &entity.Obligation{
		ID:               id,
		UserID:           userID,
		Kind:             kind,
		AmountCents:      amountCents,
		OutstandingCents: amountCents,
		DueAt:            e.now.AddDate(0, 0, -5),
		CreatedAt:        e.now,
		UpdatedAt:        e.now,
	}
	e.obligations.put(item)
	return item
}

func (e *testEnv) addCard(userID uint64) {
	e.accounts.card = &entity.DebitCard{ID: 11, UserID: userID, ExternalRef: "card-ref"}
}

func (e *testEnv) addBankAccount(userID uint64, source string) {
	e.accounts.bank = &entity.BankAccount{ID: 21, UserID: userID, ExternalRef: "bank-ref", Source: source}
}

func int64Ptr(v int64) *int64 { return &v }

func TestCollectSubscriptionDebitOnlySuccess(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)

	attempt, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempt.Outcome != entity.AttemptOutcomeSuccess {
		t.Fatalf("unexpected outcome: %d", attempt.Outcome)
	}
	if attempt.Strategy == nil || *attempt.Strategy != string(collection.StrategyDebitOnly) {
		t.Fatalf("unexpected strategy: %v", attempt.Strategy)
	}
	if env.debit.stub.calls != 1 {
		t.Fatalf("expected one debit charge, got %d", env.debit.stub.calls)
	}

	obligation, _ := env.obligations.FindByID(context.Background(), 1)
	if !obligation.Paid || obligation.PaymentID == nil {
		t.Fatalf("expected obligation paid with linked payment: %+v", obligation)
	}

	payment, _ := env.payments.FindByID(context.Background(), *obligation.PaymentID)
	if payment == nil || payment.Status != entity.PaymentStatusCompleted {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.AmountCents != 999 {
		t.Fatalf("unexpected payment amount: %d", payment.AmountCents)
	}

	if len(env.outbox.items) != 1 {
		t.Fatalf("expected one outbox message, got %d", len(env.outbox.items))
	}

	stored, _ := env.attempts.FindByID(context.Background(), attempt.ID)
	if stored.Processing != nil {
		t.Fatal("expected processing flag cleared")
	}
}

func TestCollectConflictWhenAttemptInProgress(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)

	processing := int32(1)
	if err := env.attempts.Create(context.Background(), &entity.CollectionAttempt{
		ObligationID: 1,
		Trigger:      string(collection.TriggerDailyJob),
		Processing:   &processing,
		Outcome:      entity.AttemptOutcomePending,
		Extra:        map[string]string{},
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if !errors.Is(err, ErrCollectionInProgress) {
		t.Fatalf("expected ErrCollectionInProgress, got %v", err)
	}
	if len(env.payments.items) != 0 {
		t.Fatalf("expected no payment, got %d", len(env.payments.items))
	}
}

func TestCollectSequentialRetryAfterCompletionAllowed(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)
	env.debit.stub.err = &rail.DeclineError{Processor: "processor-test", Code: rail.DeclineDoNotHonor, Message: "do not honor"}

	attempt, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if attempt.Outcome != entity.AttemptOutcomeFailure {
		t.Fatalf("expected failed attempt, got %d", attempt.Outcome)
	}

	env.debit.stub.err = nil
	second, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if second.ID == attempt.ID {
		t.Fatal("expected a new attempt row for the retry")
	}
	if second.Outcome != entity.AttemptOutcomeSuccess {
		t.Fatalf("expected retry success, got %d", second.Outcome)
	}
}

func TestCollectAlreadyPaidConflict(t *testing.T) {
	env := newTestEnv(t)
	item := env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	item.Paid = true
	env.obligations.put(item)
	env.addCard(7)

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if !errors.Is(err, ErrObligationAlreadyPaid) {
		t.Fatalf("expected ErrObligationAlreadyPaid, got %v", err)
	}
	if len(env.payments.items) != 0 {
		t.Fatal("expected no payment for paid obligation")
	}
}

func TestCollectOutsideWindowRejected(t *testing.T) {
	env := newTestEnv(t)
	item := env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	item.DueAt = env.now.AddDate(0, -2, 0)
	env.obligations.put(item)
	env.addCard(7)

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if !errors.Is(err, collection.ErrObligationTooOld) {
		t.Fatalf("expected ErrObligationTooOld, got %v", err)
	}
}

func TestCollectBalanceTooLowCreatesNoPayment(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 100)
	env.addBankAccount(7, balance.SourcePlaid)

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{
		KnownBalanceCents: int64Ptr(499),
	})
	if !errors.Is(err, collection.ErrBalanceTooLow) {
		t.Fatalf("expected ErrBalanceTooLow, got %v", err)
	}
	if len(env.payments.items) != 0 {
		t.Fatal("expected no payment created")
	}
	if len(env.attempts.items) != 0 {
		t.Fatal("expected no attempt row for ineligible collection")
	}
	if env.oracle.calls != 0 {
		t.Fatal("known balance must skip the oracle refresh")
	}
}

func TestCollectBankOnlyAfterCutoffSkipsBalanceRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addBankAccount(7, balance.SourcePlaid)

	// 19:00 local: both ACH submission windows closed and no debit card,
	// so no rail is constructible and the oracle must not be asked.
	evening := mondayMorning(t).Add(10 * time.Hour)
	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{
		At: &evening,
	})
	if !errors.Is(err, collection.ErrOutsideACHWindow) {
		t.Fatalf("expected ErrOutsideACHWindow, got %v", err)
	}
	if env.oracle.calls != 0 {
		t.Fatalf("expected no balance refresh, got %d calls", env.oracle.calls)
	}
	if len(env.payments.items) != 0 || len(env.attempts.items) != 0 {
		t.Fatalf("expected no payment or attempt rows, payments=%d attempts=%d",
			len(env.payments.items), len(env.attempts.items))
	}
}

func TestCollectNoEligibleRail(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 100)

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if !errors.Is(err, collection.ErrNoEligibleRail) {
		t.Fatalf("expected ErrNoEligibleRail, got %v", err)
	}
}

func TestCollectForcedACHForHighBalanceDailyJob(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 100)
	env.addCard(7)
	env.addBankAccount(7, balance.SourcePlaid)

	attempt, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerDailyJob, CollectOptions{
		KnownBalanceCents: int64Ptr(11000),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempt.Strategy == nil || *attempt.Strategy != string(collection.StrategyACHForced) {
		t.Fatalf("unexpected strategy: %v", attempt.Strategy)
	}
	if env.ach.stub.calls != 1 {
		t.Fatalf("expected one ACH charge, got %d", env.ach.stub.calls)
	}
	if env.debit.stub.calls != 0 {
		t.Fatalf("expected no debit charge when ACH succeeds, got %d", env.debit.stub.calls)
	}
}

func TestCollectChargeFailureCompletesAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)
	env.debit.stub.err = &rail.DeclineError{Processor: "processor-test", Code: rail.DeclineInsufficientFunds, Message: "nsf"}

	attempt, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if err != nil {
		t.Fatalf("charge failure must not surface as error, got %v", err)
	}
	if attempt.Outcome != entity.AttemptOutcomeFailure {
		t.Fatalf("unexpected outcome: %d", attempt.Outcome)
	}
	if attempt.FailureReason == nil || *attempt.FailureReason != entity.FailureReasonChargeFailed {
		t.Fatalf("unexpected failure reason: %v", attempt.FailureReason)
	}
	if attempt.Extra["decline_code"] != rail.DeclineInsufficientFunds {
		t.Fatalf("expected decline code recorded, got %q", attempt.Extra["decline_code"])
	}
	if attempt.PaymentID == nil {
		t.Fatal("expected placeholder payment linked to the failed attempt")
	}

	payment, _ := env.payments.FindByID(context.Background(), *attempt.PaymentID)
	if payment.Status != entity.PaymentStatusCanceled {
		t.Fatalf("expected canceled placeholder, got %d", payment.Status)
	}
	if payment.DeclineCode == nil || *payment.DeclineCode != rail.DeclineInsufficientFunds {
		t.Fatalf("expected decline code on payment, got %v", payment.DeclineCode)
	}

	obligation, _ := env.obligations.FindByID(context.Background(), 1)
	if obligation.Paid {
		t.Fatal("obligation must stay unpaid after a failed charge")
	}
}

func TestCollectExpiredCardInvalidatesInstrument(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)
	env.debit.stub.err = &rail.DeclineError{Processor: "processor-test", Code: rail.DeclineExpiredCard, Message: "expired"}

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !env.accounts.card.Invalid {
		t.Fatal("expected debit card invalidated after expired-card decline")
	}
	if env.accounts.card.InvalidReason == nil || *env.accounts.card.InvalidReason != rail.DeclineExpiredCard {
		t.Fatalf("unexpected invalidation reason: %v", env.accounts.card.InvalidReason)
	}
}

func TestCollectAdvanceUsesOutstandingAndClearsIt(t *testing.T) {
	env := newTestEnv(t)
	item := env.addObligation(1, 7, entity.ObligationKindAdvance, 5000)
	item.OutstandingCents = 3200
	env.obligations.put(item)
	env.addCard(7)

	attempt, err := env.svc.CollectAdvance(context.Background(), 1, collection.TriggerPredictedPayday, CollectOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	payment, _ := env.payments.FindByID(context.Background(), *attempt.PaymentID)
	if payment.AmountCents != 3200 {
		t.Fatalf("advance must charge the outstanding amount, got %d", payment.AmountCents)
	}

	obligation, _ := env.obligations.FindByID(context.Background(), 1)
	if obligation.OutstandingCents != 0 || !obligation.Paid {
		t.Fatalf("unexpected obligation after collection: %+v", obligation)
	}
}

func TestCollectKindMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)

	_, err := env.svc.CollectAdvance(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCollectRateLimitClassificationPreserved(t *testing.T) {
	cases := []struct {
		source string
		want   int32
	}{
		{source: balance.SourceMX, want: balance.RetryNow},
		{source: balance.SourcePlaid, want: balance.RetryLater},
	}

	for _, tc := range cases {
		t.Run(tc.source, func(t *testing.T) {
			env := newTestEnv(t)
			env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
			env.addBankAccount(7, tc.source)
			env.oracle.err = &balance.RateLimitError{Source: tc.source}

			_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerUserBalanceRefresh, CollectOptions{})
			if err == nil {
				t.Fatal("expected refresh error")
			}
			if got := balance.ClassifyRetry(err); got != tc.want {
				t.Fatalf("expected retry signal %d, got %d", tc.want, got)
			}
			if len(env.payments.items) != 0 {
				t.Fatal("expected no payment on refresh failure")
			}
		})
	}
}

func TestCollectDebitOnlyOverrideWithoutCardFails(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addBankAccount(7, balance.SourcePlaid)

	_, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{
		DebitOnly:         true,
		KnownBalanceCents: int64Ptr(5000),
	})
	if !errors.Is(err, collection.ErrDebitUnavailable) {
		t.Fatalf("expected ErrDebitUnavailable, got %v", err)
	}
}

// A successful charge that cannot be recorded must stay distinguishable
// from a failed charge: the attempt links the payment and carries the
// recording-specific failure reason.
func TestCollectRecordingFailureKeepsPaymentLinked(t *testing.T) {
	env := newTestEnv(t)
	env.addObligation(1, 7, entity.ObligationKindSubscription, 999)
	env.addCard(7)
	env.obligations.failUpdate = errors.New("connection reset")

	attempt, err := env.svc.CollectSubscription(context.Background(), 1, collection.TriggerAdminScript, CollectOptions{})
	if err != nil {
		t.Fatalf("recording failure must not surface as error, got %v", err)
	}
	if attempt.Outcome != entity.AttemptOutcomeFailure {
		t.Fatalf("unexpected outcome: %d", attempt.Outcome)
	}
	if attempt.FailureReason == nil || *attempt.FailureReason != entity.FailureReasonRecordingFailed {
		t.Fatalf("unexpected failure reason: %v", attempt.FailureReason)
	}
	if attempt.PaymentID == nil {
		t.Fatal("expected charged payment linked despite recording failure")
	}
	if env.debit.stub.calls != 1 {
		t.Fatalf("expected exactly one charge, got %d", env.debit.stub.calls)
	}

	payment, _ := env.payments.FindByID(context.Background(), *attempt.PaymentID)
	if payment.Status != entity.PaymentStatusCompleted {
		t.Fatalf("charged payment must keep its external status, got %d", payment.Status)
	}
}
