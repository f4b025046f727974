package port

import (
	"context"
	"encoding/json"
	"time"
)

// Named queues and their visibility timeouts.
const (
	QueueRepoAnalysis  = "repo_analysis"
	QueueWebhookEvents = "webhook_events"

	AnalysisVisibility = 60 * time.Second
	WebhookVisibility  = 300 * time.Second
)

// MaxReadCount is the delivery cap: a message read more than this many
// times is dropped instead of dispatched.
const MaxReadCount = 3

// QueueMessage is one leased message. ReadCt counts deliveries; consumers
// inspect it to bound retries.
type QueueMessage struct {
	ID         int64           `json:"msg_id"`
	ReadCt     int             `json:"read_ct"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Body       json.RawMessage `json:"body"`
}

// Queue is a named durable message queue with visibility-timeout semantics
// and at-least-once delivery.
type Queue interface {
	// Enqueue appends a message and returns its id. Never blocks on
	// consumers; fails with ErrQueueUnavailable on backend errors.
	Enqueue(ctx context.Context, queue string, body any) (int64, error)

	// Read pops at most one message and hides it from other consumers for
	// the visibility timeout. Returns (nil, nil) immediately when empty.
	Read(ctx context.Context, queue string, visibility time.Duration) (*QueueMessage, error)

	// Delete acknowledges a message. Idempotent.
	Delete(ctx context.Context, queue string, msgID int64) error
}
