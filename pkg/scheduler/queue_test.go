package scheduler

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueue(db), mock
}

var taskCols = []string{
	"id", "dedup_key", "account_id", "kind", "payload", "status",
	"due_at", "attempts", "claimed_by", "created_at",
}

func TestEnqueueArchiveClient(t *testing.T) {
	queue, mock := newTestQueue(t)
	dueAt := time.Now().AddDate(0, 0, 7)

	// archive tasks carry a deterministic key so re-planning cannot
	// schedule the same client twice
	wantKey := "archive:42:" + dueAt.Format("2006-01-02")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO scheduled_tasks`)).
		WithArgs(wantKey, int64(1), "archive_client", []byte(`{"client_id":42}`), dueAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, queue.EnqueueArchiveClient(context.Background(), 1, 42, dueAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRetryPayment(t *testing.T) {
	queue, mock := newTestQueue(t)
	dueAt := time.Now().AddDate(0, 0, 7)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO scheduled_tasks`)).
		WithArgs(sqlmock.AnyArg(), int64(1), "retry_payment", []byte(`{"stripe_invoice_id":"in_9"}`), dueAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, queue.EnqueueRetryPayment(context.Background(), 1, "in_9", dueAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue(t *testing.T) {
	queue, mock := newTestQueue(t)
	now := time.Now()
	worker := "sweeper-1"

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE scheduled_tasks`)).
		WithArgs("processing", worker, "pending", 10).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(int64(1), "dk-1", int64(5), "archive_client", []byte(`{"client_id":42}`),
				"processing", now, 1, worker, now).
			AddRow(int64(2), "dk-2", int64(5), "send_warning", []byte(`{"subject":"capacity"}`),
				"processing", now, 1, worker, now))

	tasks, err := queue.ClaimDue(context.Background(), worker, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, KindArchiveClient, tasks[0].Kind)
	assert.Equal(t, StatusProcessing, tasks[0].Status)
	require.NotNil(t, tasks[0].ClaimedBy)
	assert.Equal(t, worker, *tasks[0].ClaimedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDueEmpty(t *testing.T) {
	queue, mock := newTestQueue(t)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE scheduled_tasks`)).
		WithArgs("processing", "sweeper-1", "pending", 10).
		WillReturnRows(sqlmock.NewRows(taskCols))

	tasks, err := queue.ClaimDue(context.Background(), "sweeper-1", 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAndFail(t *testing.T) {
	queue, mock := newTestQueue(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_tasks`)).
		WithArgs(int64(1), "completed", []byte(`{"archived":true}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, queue.Complete(context.Background(), 1, map[string]bool{"archived": true}))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE scheduled_tasks`)).
		WithArgs(int64(2), "failed", "smtp unreachable").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, queue.Fail(context.Background(), 2, errors.New("smtp unreachable")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneFinished(t *testing.T) {
	queue, mock := newTestQueue(t)
	cutoff := time.Now().AddDate(0, -3, 0)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM scheduled_tasks`)).
		WithArgs("completed", "failed", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	pruned, err := queue.PruneFinished(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(17), pruned)
	assert.NoError(t, mock.ExpectationsWereMet())
}
