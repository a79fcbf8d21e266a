package ridelog

import (
	"context"
)

// Store is the event log accessor. Implementations must keep appended events
// immutable and answer queries in descending timestamp order. Connectivity
// failures surface as errors; callers decide whether to degrade or propagate.
type Store interface {
	Append(ctx context.Context, event Event) error

	// ListByKind returns every event of the given kind inside the scope,
	// most recent first.
	ListByKind(ctx context.Context, scope Scope, kind Kind) ([]Event, error)

	// Recent returns up to limit events of any kind inside the scope, most
	// recent first.
	Recent(ctx context.Context, scope Scope, limit int) ([]Event, error)
}
