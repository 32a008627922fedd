package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
)

var ErrOutboxMessageNotFound = errors.New("outbox message not found")

type OutboxRepository struct {
	db DBTX
}

func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, message *entity.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			message_id, topic, payload_json, status, attempts,
			next_attempt_at, last_error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		message.MessageID,
		message.Topic,
		message.PayloadJSON,
		message.Status,
		message.Attempts,
		nullableTimeValue(message.NextAttemptAt),
		nullableStringValue(message.LastError),
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	message.ID = uint64(id)
	return nil
}

func (r *OutboxRepository) Update(ctx context.Context, message *entity.OutboxMessage) error {
	query := `
		UPDATE outbox_messages SET
			status = ?,
			attempts = ?,
			next_attempt_at = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		message.Status,
		message.Attempts,
		nullableTimeValue(message.NextAttemptAt),
		nullableStringValue(message.LastError),
		message.UpdatedAt,
		message.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOutboxMessageNotFound
	}
	return nil
}

func (r *OutboxRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.OutboxMessage, error) {
	query := `
		SELECT id, message_id, topic, payload_json, status, attempts,
			next_attempt_at, last_error, created_at, updated_at
		FROM outbox_messages
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.OutboxStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*entity.OutboxMessage, 0)
	for rows.Next() {
		item := &entity.OutboxMessage{}
		var nextAttemptAt sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.MessageID,
			&item.Topic,
			&item.PayloadJSON,
			&item.Status,
			&item.Attempts,
			&nextAttemptAt,
			&lastError,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.NextAttemptAt = timePtrFromNull(nextAttemptAt)
		item.LastError = stringPtrFromNull(lastError)
		messages = append(messages, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
