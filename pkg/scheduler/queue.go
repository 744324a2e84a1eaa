package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the durable task queue backed by the scheduled_tasks table. It
// implements the enqueuer interfaces of the clients and billing packages.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a task queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue schedules a task. Each enqueue gets a fresh dedup key, so
// identical work scheduled twice yields two tasks; idempotency lives in
// the task action, not the queue.
func (q *Queue) Enqueue(ctx context.Context, accountID *int64, kind TaskKind, payload interface{}, dueAt time.Time) error {
	return q.enqueueKeyed(ctx, uuid.NewString(), accountID, kind, payload, dueAt)
}

func (q *Queue) enqueueKeyed(ctx context.Context, dedupKey string, accountID *int64, kind TaskKind, payload interface{}, dueAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (dedup_key, account_id, kind, payload, due_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedup_key) DO NOTHING`,
		dedupKey, accountID, string(kind), body, dueAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", kind, err)
	}
	return nil
}

// EnqueueArchiveClient schedules a client archive. The dedup key is
// deterministic per client and due date, so re-running the smart archive
// planner never schedules the same client twice.
func (q *Queue) EnqueueArchiveClient(ctx context.Context, accountID, clientID int64, dueAt time.Time) error {
	key := fmt.Sprintf("archive:%d:%s", clientID, dueAt.Format("2006-01-02"))
	return q.enqueueKeyed(ctx, key, &accountID, KindArchiveClient, ArchiveClientPayload{ClientID: clientID}, dueAt)
}

// EnqueueRetryPayment schedules a grace-period payment retry
func (q *Queue) EnqueueRetryPayment(ctx context.Context, accountID int64, stripeInvoiceID string, dueAt time.Time) error {
	return q.Enqueue(ctx, &accountID, KindRetryPayment, RetryPaymentPayload{StripeInvoiceID: stripeInvoiceID}, dueAt)
}

// EnqueueWarningEmail schedules a warning email
func (q *Queue) EnqueueWarningEmail(ctx context.Context, accountID int64, subject string, dueAt time.Time) error {
	return q.Enqueue(ctx, &accountID, KindSendWarning, WarningPayload{Subject: subject}, dueAt)
}

// EnqueueRetentionEmail schedules a retention email after cancellation
func (q *Queue) EnqueueRetentionEmail(ctx context.Context, accountID int64, dueAt time.Time) error {
	return q.Enqueue(ctx, &accountID, KindRetentionEmail, struct{}{}, dueAt)
}

// ClaimDue atomically claims up to batchSize due tasks for the given
// worker. The claim is a single UPDATE over a SKIP LOCKED selection, so
// overlapping sweeps never process the same task twice.
func (q *Queue) ClaimDue(ctx context.Context, workerID string, batchSize int) ([]*Task, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $1, claimed_by = $2, attempts = attempts + 1, started_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE status = $3 AND due_at <= NOW()
			ORDER BY due_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, dedup_key, account_id, kind, payload, status, due_at, attempts, claimed_by, created_at`,
		string(StatusProcessing), workerID, string(StatusPending), batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task := &Task{}
		err := rows.Scan(&task.ID, &task.DedupKey, &task.AccountID, &task.Kind, &task.Payload,
			&task.Status, &task.DueAt, &task.Attempts, &task.ClaimedBy, &task.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Complete marks a claimed task done, recording its result payload
func (q *Queue) Complete(ctx context.Context, taskID int64, result interface{}) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $2, result = $3, finished_at = NOW()
		WHERE id = $1`,
		taskID, string(StatusCompleted), body)
	if err != nil {
		return fmt.Errorf("failed to complete task %d: %w", taskID, err)
	}
	return nil
}

// Fail marks a claimed task failed, recording the error
func (q *Queue) Fail(ctx context.Context, taskID int64, taskErr error) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $2, last_error = $3, finished_at = NOW()
		WHERE id = $1`,
		taskID, string(StatusFailed), taskErr.Error())
	if err != nil {
		return fmt.Errorf("failed to fail task %d: %w", taskID, err)
	}
	return nil
}

// PruneFinished deletes completed and failed tasks older than the cutoff
func (q *Queue) PruneFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM scheduled_tasks
		WHERE status IN ($1, $2) AND finished_at < $3`,
		string(StatusCompleted), string(StatusFailed), olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune finished tasks: %w", err)
	}
	return result.RowsAffected()
}
