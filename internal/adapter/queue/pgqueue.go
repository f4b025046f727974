package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/go-pr-sentinel/internal/port"
)

// PostgresQueue implements port.Queue on a single queue_messages table.
// FIFO within a queue; a read hides the message behind its visibility
// timeout, and an unacknowledged message redelivers with a bumped read_ct.
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue creates a queue over an existing database connection.
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Enqueue appends a message. Producer failures surface synchronously as
// ErrQueueUnavailable.
func (q *PostgresQueue) Enqueue(ctx context.Context, queue string, body any) (int64, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal queue message: %w", err)
	}

	query := `INSERT INTO queue_messages (queue, body, visible_at)
	          VALUES ($1, $2::jsonb, now()) RETURNING id`

	var id int64
	if err := q.db.QueryRowContext(ctx, query, queue, string(raw)).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: %v", port.ErrQueueUnavailable, err)
	}
	return id, nil
}

// Read pops at most one visible message and hides it for the visibility
// timeout. SKIP LOCKED keeps concurrent workers from leasing the same
// message. Returns (nil, nil) when the queue is empty.
func (q *PostgresQueue) Read(ctx context.Context, queue string, visibility time.Duration) (*port.QueueMessage, error) {
	query := `
		UPDATE queue_messages
		SET visible_at = now() + ($2 * interval '1 second'),
		    read_ct = read_ct + 1
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, read_ct, enqueued_at, body`

	var (
		msg  port.QueueMessage
		body string
	)
	err := q.db.QueryRowContext(ctx, query, queue, int(visibility.Seconds())).Scan(
		&msg.ID, &msg.ReadCt, &msg.EnqueuedAt, &body,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", queue, err)
	}
	msg.Body = json.RawMessage(body)
	return &msg, nil
}

// Delete acknowledges a message. Deleting an already-deleted message is a
// no-op.
func (q *PostgresQueue) Delete(ctx context.Context, queue string, msgID int64) error {
	query := `DELETE FROM queue_messages WHERE queue = $1 AND id = $2`
	if _, err := q.db.ExecContext(ctx, query, queue, msgID); err != nil {
		return fmt.Errorf("delete from queue %s: %w", queue, err)
	}
	return nil
}
