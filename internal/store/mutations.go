package store

import (
	"context"
	"fmt"
	"time"

	"github.com/user/analytics-ingest/internal/errs"
)

// Mutation tuning constants. The store's hard ceiling on concurrent
// mutations per table is 100; the concurrency limit leaves headroom below
// it.
const (
	MutationConcurrencyLimit = 50
	MutationCapacityPoll     = 500 * time.Millisecond
	MutationCapacityTimeout  = 60 * time.Second
	MutationWaitPoll         = 100 * time.Millisecond
)

// unfinishedMutations counts rows in system.mutations for one workspace's
// database where is_done = 0.
func (s *Store) unfinishedMutations(ctx context.Context, workspaceID string) (int, error) {
	var n uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM system.mutations WHERE database = ? AND is_done = 0`,
		s.WorkspaceDatabase(workspaceID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unfinished mutations: %w", err)
	}
	return int(n), nil
}

// EnsureMutationCapacity polls system.mutations until the number of
// unfinished mutations for the workspace's database is below
// MutationConcurrencyLimit, or returns errs.ErrCapacityTimeout after
// MutationCapacityTimeout.
func (s *Store) EnsureMutationCapacity(ctx context.Context, workspaceID string) error {
	deadline := time.Now().Add(MutationCapacityTimeout)
	ticker := time.NewTicker(MutationCapacityPoll)
	defer ticker.Stop()

	for {
		n, err := s.unfinishedMutations(ctx, workspaceID)
		if err != nil {
			return err
		}
		if n < MutationConcurrencyLimit {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.ErrCapacityTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForMutations polls system.mutations for the given table until no
// unfinished mutation remains for (workspace database, table), or timeout
// elapses.
func (s *Store) WaitForMutations(ctx context.Context, workspaceID, table string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(MutationWaitPoll)
	defer ticker.Stop()

	for {
		var n uint64
		err := s.conn.QueryRow(ctx,
			`SELECT count() FROM system.mutations WHERE database = ? AND table = ? AND is_done = 0`,
			s.WorkspaceDatabase(workspaceID), table,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("poll mutations for table %s: %w", table, err)
		}
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: mutations on table %s", errs.ErrCapacityTimeout, table)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UpdateEventsPartition issues the events-table filter-reapplication
// mutation for one YYYYMMDD partition. The events table has a short TTL and
// is append-only downstream, so updated_at is left untouched here.
func (s *Store) UpdateEventsPartition(ctx context.Context, workspaceID, setClause, partitionYYYYMMDD string) error {
	query := fmt.Sprintf(
		"ALTER TABLE %s.events UPDATE %s IN PARTITION '%s' WHERE 1=1",
		s.WorkspaceDatabase(workspaceID), setClause, partitionYYYYMMDD,
	)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("update events partition %s: %w", partitionYYYYMMDD, err)
	}
	return nil
}

// UpdateSessionsPartition issues the sessions-table filter-reapplication
// mutation for one YYYYMM partition. updated_at is bumped in the same
// mutation: the replacement merge keeps the row version with the greatest
// updated_at, so a mutation that left it unchanged would stay invisible
// behind the pre-mutation version.
func (s *Store) UpdateSessionsPartition(ctx context.Context, workspaceID, setClause, partitionYYYYMM string) error {
	return s.updateReplacementPartition(ctx, workspaceID, "sessions", setClause, partitionYYYYMM)
}

// UpdateGoalsPartition applies the same reapplication pattern to the goals
// table, which mirrors sessions' YYYYMM partitioning and updated_at
// discipline.
func (s *Store) UpdateGoalsPartition(ctx context.Context, workspaceID, setClause, partitionYYYYMM string) error {
	return s.updateReplacementPartition(ctx, workspaceID, "goals", setClause, partitionYYYYMM)
}

func (s *Store) updateReplacementPartition(ctx context.Context, workspaceID, table, setClause, partitionYYYYMM string) error {
	query := fmt.Sprintf(
		"ALTER TABLE %s.%s UPDATE %s, updated_at = now() IN PARTITION '%s' WHERE 1=1",
		s.WorkspaceDatabase(workspaceID), table, setClause, partitionYYYYMM,
	)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("update %s partition %s: %w", table, partitionYYYYMM, err)
	}
	return nil
}

// KillMutations issues KILL MUTATION for every in-flight mutation against
// one workspace's database, used by task cancellation and shutdown.
func (s *Store) KillMutations(ctx context.Context, workspaceID string) error {
	db := s.WorkspaceDatabase(workspaceID)
	query := fmt.Sprintf("KILL MUTATION WHERE database = '%s'", db)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("kill mutations for database %s: %w", db, err)
	}
	return nil
}
