package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var (
	ErrBankAccountNotFound = errors.New("bank account not found")
	ErrDebitCardNotFound   = errors.New("debit card not found")
)

type AccountRepository struct {
	db DBTX
}

func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindBankAccountByUser(ctx context.Context, userID uint64) (*entity.BankAccount, error) {
	query := `
		SELECT id, user_id, external_ref, source, available_cents, current_cents,
			balance_refreshed_at, created_at, updated_at
		FROM bank_accounts
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	account := &entity.BankAccount{}
	if err := scanBankAccount(r.db.QueryRowContext(ctx, query, userID), account); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) UpdateBankAccountBalances(ctx context.Context, id uint64, availableCents, currentCents int64, refreshedAt time.Time) error {
	query := `
		UPDATE bank_accounts SET
			available_cents = ?,
			current_cents = ?,
			balance_refreshed_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, availableCents, currentCents, refreshedAt, refreshedAt, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}

func (r *AccountRepository) DeleteBankAccountByRef(ctx context.Context, externalRef string) error {
	query := `DELETE FROM bank_accounts WHERE external_ref = ?`
	_, err := r.db.ExecContext(ctx, query, externalRef)
	return err
}

// FindValidDebitCardByUser returns the user's debit card only when it has
// not been invalidated by a prior decline.
func (r *AccountRepository) FindValidDebitCardByUser(ctx context.Context, userID uint64) (*entity.DebitCard, error) {
	query := `
		SELECT id, user_id, external_ref, invalid, invalid_reason, created_at, updated_at
		FROM debit_cards
		WHERE user_id = ? AND invalid = FALSE
		ORDER BY id DESC
		LIMIT 1
	`

	card := &entity.DebitCard{}
	if err := scanDebitCard(r.db.QueryRowContext(ctx, query, userID), card); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return card, nil
}

func (r *AccountRepository) InvalidateDebitCard(ctx context.Context, id uint64, reason string, now time.Time) error {
	query := `
		UPDATE debit_cards SET
			invalid = TRUE,
			invalid_reason = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, reason, now, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDebitCardNotFound
	}
	return nil
}

func scanBankAccount(scan rowScanner, account *entity.BankAccount) error {
	var availableCents sql.NullInt64
	var currentCents sql.NullInt64
	var refreshedAt sql.NullTime

	err := scan.Scan(
		&account.ID,
		&account.UserID,
		&account.ExternalRef,
		&account.Source,
		&availableCents,
		&currentCents,
		&refreshedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return err
	}

	account.AvailableCents = int64PtrFromNull(availableCents)
	account.CurrentCents = int64PtrFromNull(currentCents)
	account.BalanceRefreshedAt = timePtrFromNull(refreshedAt)
	return nil
}

func scanDebitCard(scan rowScanner, card *entity.DebitCard) error {
	var invalidReason sql.NullString

	err := scan.Scan(
		&card.ID,
		&card.UserID,
		&card.ExternalRef,
		&card.Invalid,
		&invalidReason,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		return err
	}

	card.InvalidReason = stringPtrFromNull(invalidReason)
	return nil
}
