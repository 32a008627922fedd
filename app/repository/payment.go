package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
)

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (
			user_id, obligation_id, reference_id, rail_type, amount_cents,
			status, external_id, processor, decline_code,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.UserID,
		payment.ObligationID,
		payment.ReferenceID,
		payment.RailType,
		payment.AmountCents,
		payment.Status,
		nullableStringValue(payment.ExternalID),
		nullableStringValue(payment.Processor),
		nullableStringValue(payment.DeclineCode),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, payment *entity.Payment) error {
	query := `
		UPDATE payments SET
			rail_type = ?,
			status = ?,
			external_id = ?,
			processor = ?,
			decline_code = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.RailType,
		payment.Status,
		nullableStringValue(payment.ExternalID),
		nullableStringValue(payment.Processor),
		nullableStringValue(payment.DeclineCode),
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `
		SELECT id, user_id, obligation_id, reference_id, rail_type, amount_cents,
			status, external_id, processor, decline_code, created_at, updated_at
		FROM payments
		WHERE id = ?
	`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return payment, nil
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var externalID sql.NullString
	var processor sql.NullString
	var declineCode sql.NullString

	err := scan.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.ObligationID,
		&payment.ReferenceID,
		&payment.RailType,
		&payment.AmountCents,
		&payment.Status,
		&externalID,
		&processor,
		&declineCode,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.ExternalID = stringPtrFromNull(externalID)
	payment.Processor = stringPtrFromNull(processor)
	payment.DeclineCode = stringPtrFromNull(declineCode)
	return nil
}
