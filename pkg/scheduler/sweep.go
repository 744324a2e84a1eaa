package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Archiver archives clients. Satisfied by the clients service.
type Archiver interface {
	Archive(ctx context.Context, accountID, clientID int64) (bool, error)
}

// PaymentRetrier retries failed invoice collection. Satisfied by the
// billing service.
type PaymentRetrier interface {
	RetryPayment(ctx context.Context, accountID int64, stripeInvoiceID string) error
}

// Mailer sends scheduled account email. Implemented by the notify package.
type Mailer interface {
	SendWarning(ctx context.Context, accountID int64, subject string) error
	SendRetention(ctx context.Context, accountID int64) error
	SendTrialExpiry(ctx context.Context, accountID int64) error
}

// Sweeper drains due tasks from the queue in bounded batches. One task
// failing, or even panicking, never aborts the rest of the batch.
type Sweeper struct {
	queue    *Queue
	archiver Archiver
	retrier  PaymentRetrier
	mailer   Mailer

	workerID  string
	batchSize int
	logger    *logrus.Entry
}

// NewSweeper creates a sweeper identified by workerID
func NewSweeper(queue *Queue, archiver Archiver, retrier PaymentRetrier, mailer Mailer, workerID string, batchSize int, logger *logrus.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		queue:     queue,
		archiver:  archiver,
		retrier:   retrier,
		mailer:    mailer,
		workerID:  workerID,
		batchSize: batchSize,
		logger:    logger.WithField("worker_id", workerID),
	}
}

// Sweep claims and processes one batch of due tasks. Returns the number of
// tasks processed, counting failures.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	tasks, err := s.queue.ClaimDue(ctx, s.workerID, s.batchSize)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		log := s.logger.WithFields(logrus.Fields{
			"task_id":   task.ID,
			"task_kind": string(task.Kind),
		})

		result, err := s.runTask(ctx, task)
		if err != nil {
			log.WithError(err).Warn("task failed")
			if failErr := s.queue.Fail(ctx, task.ID, err); failErr != nil {
				log.WithError(failErr).Error("could not record task failure")
			}
			continue
		}

		if err := s.queue.Complete(ctx, task.ID, result); err != nil {
			log.WithError(err).Error("could not record task completion")
		}
	}
	return len(tasks), nil
}

// runTask dispatches a single task, converting panics into errors
func (s *Sweeper) runTask(ctx context.Context, task *Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()

	if task.AccountID == nil {
		return nil, fmt.Errorf("task %d has no account", task.ID)
	}
	accountID := *task.AccountID

	switch task.Kind {
	case KindArchiveClient:
		var payload ArchiveClientPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("bad archive payload: %w", err)
		}
		changed, err := s.archiver.Archive(ctx, accountID, payload.ClientID)
		if err != nil {
			return nil, err
		}
		// already-archived clients complete as a no-op
		return map[string]interface{}{"client_id": payload.ClientID, "archived": changed}, nil

	case KindRetryPayment:
		var payload RetryPaymentPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("bad retry payload: %w", err)
		}
		if err := s.retrier.RetryPayment(ctx, accountID, payload.StripeInvoiceID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"stripe_invoice_id": payload.StripeInvoiceID}, nil

	case KindSendWarning:
		var payload WarningPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("bad warning payload: %w", err)
		}
		if err := s.mailer.SendWarning(ctx, accountID, payload.Subject); err != nil {
			return nil, err
		}
		return map[string]interface{}{"subject": payload.Subject}, nil

	case KindRetentionEmail:
		if err := s.mailer.SendRetention(ctx, accountID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"sent": true}, nil

	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
