package scheduler

import (
	"encoding/json"
	"time"
)

// TaskKind identifies what a scheduled task does
type TaskKind string

const (
	KindArchiveClient  TaskKind = "archive_client"
	KindSendWarning    TaskKind = "send_warning"
	KindRetryPayment   TaskKind = "retry_payment"
	KindRetentionEmail TaskKind = "retention_email"
)

// TaskStatus tracks a task through its lifecycle
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Task is one row of the durable task queue
type Task struct {
	ID         int64           `json:"id"`
	DedupKey   string          `json:"dedup_key"`
	AccountID  *int64          `json:"account_id,omitempty"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Status     TaskStatus      `json:"status"`
	DueAt      time.Time       `json:"due_at"`
	Attempts   int             `json:"attempts"`
	ClaimedBy  *string         `json:"claimed_by,omitempty"`
	LastError  *string         `json:"last_error,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ArchiveClientPayload is carried by archive_client tasks
type ArchiveClientPayload struct {
	ClientID int64 `json:"client_id"`
}

// RetryPaymentPayload is carried by retry_payment tasks
type RetryPaymentPayload struct {
	StripeInvoiceID string `json:"stripe_invoice_id"`
}

// WarningPayload is carried by send_warning tasks
type WarningPayload struct {
	Subject string `json:"subject"`
}
