package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var ErrObligationNotFound = errors.New("obligation not found")

type ObligationRepository struct {
	db DBTX
}

func NewObligationRepository(db DBTX) *ObligationRepository {
	return &ObligationRepository{db: db}
}

const obligationColumns = `
	id, user_id, kind, amount_cents, outstanding_cents,
	due_at, paid, payment_id, created_at, updated_at
`

func (r *ObligationRepository) FindByID(ctx context.Context, id uint64) (*entity.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE id = ?`

	obligation := &entity.Obligation{}
	if err := scanObligation(r.db.QueryRowContext(ctx, query, id), obligation); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return obligation, nil
}

// Update persists settlement fields only; obligations are created by
// upstream billing generation and never deleted here.
func (r *ObligationRepository) Update(ctx context.Context, obligation *entity.Obligation) error {
	query := `
		UPDATE obligations SET
			outstanding_cents = ?,
			paid = ?,
			payment_id = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		obligation.OutstandingCents,
		obligation.Paid,
		nullableUint64Value(obligation.PaymentID),
		obligation.UpdatedAt,
		obligation.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrObligationNotFound
	}
	return nil
}

func (r *ObligationRepository) ListDueUnpaid(ctx context.Context, now time.Time, limit int32) ([]*entity.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE paid = FALSE AND due_at <= ? ORDER BY due_at ASC LIMIT ?`
	return r.listObligations(ctx, query, now, limit)
}

func (r *ObligationRepository) ListDueUnpaidByUser(ctx context.Context, userID uint64, now time.Time, limit int32) ([]*entity.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE user_id = ? AND paid = FALSE AND due_at <= ? ORDER BY due_at ASC LIMIT ?`
	return r.listObligations(ctx, query, userID, now, limit)
}

func (r *ObligationRepository) listObligations(ctx context.Context, query string, args ...interface{}) ([]*entity.Obligation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	obligations := make([]*entity.Obligation, 0)
	for rows.Next() {
		item := &entity.Obligation{}
		if err := scanObligation(rows, item); err != nil {
			return nil, err
		}
		obligations = append(obligations, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return obligations, nil
}

func scanObligation(scan rowScanner, obligation *entity.Obligation) error {
	var paymentID sql.NullInt64

	err := scan.Scan(
		&obligation.ID,
		&obligation.UserID,
		&obligation.Kind,
		&obligation.AmountCents,
		&obligation.OutstandingCents,
		&obligation.DueAt,
		&obligation.Paid,
		&paymentID,
		&obligation.CreatedAt,
		&obligation.UpdatedAt,
	)
	if err != nil {
		return err
	}

	obligation.PaymentID = uint64PtrFromNull(paymentID)
	return nil
}
