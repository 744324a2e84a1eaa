package clients

import (
	"context"
	"fmt"
	"time"
)

// PlanSmartArchive proposes which clients to archive for an over-capacity
// account: the overage-many least-recently-active clients. Returns a plan
// with zero overage when the account fits its tier.
func (s *PostgresService) PlanSmartArchive(ctx context.Context, accountID int64) (*ArchivePlan, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	tier, err := s.registry.Get(account.TierID)
	if err != nil {
		return nil, err
	}

	plan := &ArchivePlan{
		AccountID: accountID,
		ArchiveAt: time.Now().AddDate(0, 0, s.archiveDelayDays),
	}

	if tier.Unlimited() {
		return plan, nil
	}

	count, err := s.accounts.ActiveClientCount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if count <= tier.ClientLimit {
		return plan, nil
	}

	plan.Overage = count - tier.ClientLimit
	plan.Clients, err = s.LeastRecentlyActive(ctx, accountID, plan.Overage)
	if err != nil {
		return nil, err
	}

	return plan, nil
}

// ExecuteSmartArchive sends a notice and enqueues deferred archive tasks
// for the planned clients. The delay gives the owner time to object or
// upgrade; executing a task later archives only if the client is still
// active, so upgrades in the meantime render the tasks harmless.
func (s *PostgresService) ExecuteSmartArchive(ctx context.Context, accountID int64) (*ArchivePlan, error) {
	plan, err := s.PlanSmartArchive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if plan.Overage == 0 {
		return plan, nil
	}

	names := make([]string, len(plan.Clients))
	for i, c := range plan.Clients {
		names[i] = c.Name
	}

	if s.notifier != nil {
		if err := s.notifier.SendArchiveNotice(ctx, accountID, names, plan.ArchiveAt); err != nil {
			return nil, fmt.Errorf("failed to send archive notice: %w", err)
		}
	}

	for _, c := range plan.Clients {
		if err := s.enqueuer.EnqueueArchiveClient(ctx, accountID, c.ID, plan.ArchiveAt); err != nil {
			return nil, fmt.Errorf("failed to enqueue archive task for client %d: %w", c.ID, err)
		}
	}

	return plan, nil
}
