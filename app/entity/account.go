package entity

import "time"

type BankAccount struct {
	ID     uint64
	UserID uint64

	// ExternalRef is the processor-side token used to originate ACH
	// charges against the account.
	ExternalRef string

	// Source identifies the upstream data provider the balance oracle
	// refreshes this account through.
	Source string

	AvailableCents     *int64
	CurrentCents       *int64
	BalanceRefreshedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type DebitCard struct {
	ID     uint64
	UserID uint64

	ExternalRef string

	Invalid       bool
	InvalidReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
