package directory

import (
	"context"

	id "vanscontrol/pkg/domain"
)

// ChildStore resolves child records. Implementations return
// sentinel.ErrNotFound for unknown ids and wrap connectivity failures in
// sentinel.ErrUnavailable.
type ChildStore interface {
	Save(ctx context.Context, child Child) error
	FindByID(ctx context.Context, childID id.ChildID) (Child, error)
}
