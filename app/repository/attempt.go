package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var (
	ErrAttemptNotFound   = errors.New("collection attempt not found")
	ErrAttemptInProgress = errors.New("collection attempt already in progress")
)

// AttemptRepository guards the one-active-attempt-per-obligation
// invariant. The collection_attempts table carries a unique key on
// (obligation_id, processing); processing is 1 for an in-flight attempt
// and NULL once cleared, so finished attempts never collide while a
// concurrent insert trips MySQL error 1062.
type AttemptRepository struct {
	db DBTX
}

func NewAttemptRepository(db DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *entity.CollectionAttempt) error {
	extraJSON, err := serializeExtra(attempt.Extra)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO collection_attempts (
			obligation_id, idempotency_key, trigger_reason, processing,
			strategy, payment_id, outcome, failure_reason, extra_json,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		attempt.ObligationID,
		attempt.IdempotencyKey,
		attempt.Trigger,
		nullableInt32Value(attempt.Processing),
		nullableStringValue(attempt.Strategy),
		nullableUint64Value(attempt.PaymentID),
		attempt.Outcome,
		nullableStringValue(attempt.FailureReason),
		extraJSON,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrAttemptInProgress
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	attempt.ID = uint64(id)
	return nil
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *entity.CollectionAttempt) error {
	extraJSON, err := serializeExtra(attempt.Extra)
	if err != nil {
		return err
	}

	query := `
		UPDATE collection_attempts SET
			strategy = ?,
			payment_id = ?,
			outcome = ?,
			failure_reason = ?,
			extra_json = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(attempt.Strategy),
		nullableUint64Value(attempt.PaymentID),
		attempt.Outcome,
		nullableStringValue(attempt.FailureReason),
		extraJSON,
		attempt.UpdatedAt,
		attempt.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// ClearProcessing drops the in-progress marker so a sequential retry can
// create a new attempt. Runs on every orchestrator exit path.
func (r *AttemptRepository) ClearProcessing(ctx context.Context, id uint64, now time.Time) error {
	query := `UPDATE collection_attempts SET processing = NULL, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, now, id)
	return err
}

const attemptColumns = `
	id, obligation_id, idempotency_key, trigger_reason, processing,
	strategy, payment_id, outcome, failure_reason, extra_json,
	created_at, updated_at
`

func (r *AttemptRepository) FindByID(ctx context.Context, id uint64) (*entity.CollectionAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM collection_attempts WHERE id = ?`

	attempt := &entity.CollectionAttempt{}
	if err := scanAttempt(r.db.QueryRowContext(ctx, query, id), attempt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *AttemptRepository) ListByObligation(ctx context.Context, obligationID uint64, limit int32) ([]*entity.CollectionAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM collection_attempts WHERE obligation_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, obligationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*entity.CollectionAttempt, 0)
	for rows.Next() {
		item := &entity.CollectionAttempt{}
		if err := scanAttempt(rows, item); err != nil {
			return nil, err
		}
		attempts = append(attempts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(scan rowScanner, attempt *entity.CollectionAttempt) error {
	var processing sql.NullInt32
	var strategy sql.NullString
	var paymentID sql.NullInt64
	var failureReason sql.NullString
	var extraJSON string

	err := scan.Scan(
		&attempt.ID,
		&attempt.ObligationID,
		&attempt.IdempotencyKey,
		&attempt.Trigger,
		&processing,
		&strategy,
		&paymentID,
		&attempt.Outcome,
		&failureReason,
		&extraJSON,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return err
	}

	attempt.Processing = int32PtrFromNull(processing)
	attempt.Strategy = stringPtrFromNull(strategy)
	attempt.PaymentID = uint64PtrFromNull(paymentID)
	attempt.FailureReason = stringPtrFromNull(failureReason)

	extra, err := parseExtra(extraJSON)
	if err != nil {
		return err
	}
	attempt.Extra = extra
	return nil
}
