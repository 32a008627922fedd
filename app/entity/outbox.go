package entity

import "time"

const (
	OutboxStatusPending int32 = 1
	OutboxStatusSent    int32 = 10
	OutboxStatusFailed  int32 = 20
)

// OutboxMessage is a best-effort outbound notification. Delivery failures
// are retried by the dispatch job and never block the operation that
// enqueued the message.
type OutboxMessage struct {
	ID uint64

	MessageID string
	Topic     string

	PayloadJSON string

	Status        int32
	Attempts      int32
	NextAttemptAt *time.Time
	LastError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
