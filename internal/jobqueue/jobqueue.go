/*
Package jobqueue provides a River-based job queue for offline message
notifications. When a message arrives for a user with no live subscription,
a job records it in the notification outbox that the marketplace's mailer
drains.

For tuning parameters see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
)

// MessageNotifyJobArgs represents the arguments for an offline message
// notification job.
type MessageNotifyJobArgs struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
}

// Kind returns the job kind for River
func (MessageNotifyJobArgs) Kind() string { return "message_notify" }

// MessageNotifyWorker writes outbox rows for unseen messages
type MessageNotifyWorker struct {
	river.WorkerDefaults[MessageNotifyJobArgs]
	pool *pgxpool.Pool
}

// Work records the notification. The outbox's (message_id, user_id)
// uniqueness makes retried jobs idempotent.
func (w *MessageNotifyWorker) Work(ctx context.Context, job *river.Job[MessageNotifyJobArgs]) error {
	args := job.Args

	// Skip if the receipt landed between enqueue and execution; the user
	// already saw the message.
	var seen bool
	err := w.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_read_receipts
			WHERE message_id = $1 AND user_id = $2
		)
	`, args.MessageID, args.UserID).Scan(&seen)
	if err != nil {
		return fmt.Errorf("failed to check read receipt: %w", err)
	}
	if seen {
		return nil
	}

	_, err = w.pool.Exec(ctx, `
		INSERT INTO notification_outbox (user_id, conversation_id, message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, args.UserID, args.ConversationID, args.MessageID)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	log.Debug().
		Str("user_id", args.UserID).
		Int64("message_id", args.MessageID).
		Msg("queued offline notification")

	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance
func NewJobQueue(databaseURL string) (*JobQueue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &MessageNotifyWorker{pool: pool})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	jq.pool.Close()
	return jq.client.Stop(ctx)
}

// QueueMessageNotify queues an offline notification job. Best effort from
// the send path: failures are the caller's to log, never to fail a send on.
func (jq *JobQueue) QueueMessageNotify(ctx context.Context, userID, conversationID string, messageID int64) error {
	args := MessageNotifyJobArgs{
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
	}

	_, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue message notify job: %w", err)
	}

	return nil
}
