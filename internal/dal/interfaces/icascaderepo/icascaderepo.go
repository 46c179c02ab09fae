package icascaderepo

import (
	"context"

	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
)

// IDependentRepository deletes rows of dependent tables.
type IDependentRepository interface {
	// DeleteByColumn removes every row of dep.Table whose dep.Column equals id.
	DeleteByColumn(ctx context.Context, dep cascade.DependentTable, id string) (int64, error)
}

// ICheckpointRepository persists finished cascade steps.
type ICheckpointRepository interface {
	// Save records a finished step. Saving the same step twice keeps one record.
	Save(ctx context.Context, checkpoint cascade.Checkpoint) error

	// List returns the finished steps for a service order.
	List(ctx context.Context, serviceOrderID string) ([]cascade.Checkpoint, error)

	// Clear removes the checkpoints of a completed cascade.
	Clear(ctx context.Context, serviceOrderID string) error
}
