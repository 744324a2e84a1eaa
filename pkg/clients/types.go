package clients

import (
	"context"
	"errors"
	"time"
)

// Client is a dependent entity (trainee or member) owned by an account.
// Clients are archived, never deleted: archiving is a soft, reversible
// state transition.
type Client struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	Name           string     `json:"name"`
	Email          *string    `json:"email,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	Archived       bool       `json:"archived"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateInput holds the fields accepted when creating a client
type CreateInput struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// ImportResult reports the outcome of a bulk import
type ImportResult struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ArchivePlan describes the smart-archive proposal for an over-capacity
// account: which clients would be archived and when.
type ArchivePlan struct {
	AccountID int64     `json:"account_id"`
	Overage   int64     `json:"overage"`
	Clients   []*Client `json:"clients"`
	ArchiveAt time.Time `json:"archive_at"`
}

// ErrClientNotFound is returned when a client does not exist under the account
var ErrClientNotFound = errors.New("client not found")

// TaskEnqueuer schedules deferred work. Implemented by the scheduler queue.
type TaskEnqueuer interface {
	EnqueueArchiveClient(ctx context.Context, accountID, clientID int64, dueAt time.Time) error
}

// Notifier sends account-facing email. Implemented by the notify mailer.
type Notifier interface {
	SendCapacityWarning(ctx context.Context, accountID int64, used, limit int64) error
	SendArchiveNotice(ctx context.Context, accountID int64, clientNames []string, archiveAt time.Time) error
}

// Service defines client operations. Reads are always allowed, including
// for restricted accounts; creation-type operations claim capacity slots.
type Service interface {
	Create(ctx context.Context, accountID int64, input CreateInput) (*Client, error)
	Get(ctx context.Context, accountID, clientID int64) (*Client, error)
	List(ctx context.Context, accountID int64, includeArchived bool, limit, offset int) ([]*Client, error)
	Archive(ctx context.Context, accountID, clientID int64) (changed bool, err error)
	Reactivate(ctx context.Context, accountID, clientID int64) error
	BulkImport(ctx context.Context, accountID int64, inputs []CreateInput) (*ImportResult, error)
	TouchActivity(ctx context.Context, accountID, clientID int64) error
	LeastRecentlyActive(ctx context.Context, accountID int64, n int64) ([]*Client, error)
	PlanSmartArchive(ctx context.Context, accountID int64) (*ArchivePlan, error)
	ExecuteSmartArchive(ctx context.Context, accountID int64) (*ArchivePlan, error)
}
