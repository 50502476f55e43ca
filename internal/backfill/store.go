package backfill

import (
	"context"
	"time"

	"github.com/user/analytics-ingest/internal/store"
)

// Store is the subset of internal/store's ClickHouse client the backfill
// service and processor depend on. Defined as an interface here (rather
// than depending on *store.Store directly) so tests can substitute a fake
// without standing up ClickHouse.
type Store interface {
	InsertTask(ctx context.Context, t store.Task) error
	LatestTask(ctx context.Context, taskID string) (store.Task, bool, error)
	ListTasks(ctx context.Context, workspaceID string) ([]store.Task, error)
	ActiveTask(ctx context.Context, workspaceID string) (store.Task, bool, error)
	StaleRunningTasks(ctx context.Context, cutoff time.Time) ([]store.Task, error)

	CountWindow(ctx context.Context, workspaceID string, since time.Time) (store.WindowCounts, error)
	CountEventsPartition(ctx context.Context, workspaceID, partitionYYYYMMDD string) (int64, error)
	CountSessionsForDate(ctx context.Context, workspaceID string, date time.Time) (int64, error)

	EnsureMutationCapacity(ctx context.Context, workspaceID string) error
	WaitForMutations(ctx context.Context, workspaceID, table string, timeout time.Duration) error
	UpdateEventsPartition(ctx context.Context, workspaceID, setClause, partitionYYYYMMDD string) error
	UpdateSessionsPartition(ctx context.Context, workspaceID, setClause, partitionYYYYMM string) error
	UpdateGoalsPartition(ctx context.Context, workspaceID, setClause, partitionYYYYMM string) error
	KillMutations(ctx context.Context, workspaceID string) error
}
