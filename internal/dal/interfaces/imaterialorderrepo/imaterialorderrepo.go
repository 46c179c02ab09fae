package imaterialorderrepo

import (
	"context"

	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
)

// IMaterialOrderRepository is the order store adapter for material orders.
// The item collection is read and written as one unit; every write is conditioned
// on the version that was read and fails with errs.ErrStaleVersion otherwise.
type IMaterialOrderRepository interface {
	// Get returns the order or errs.ErrNotFound.
	Get(ctx context.Context, id string) (materialorder.MaterialOrder, error)

	// FindPending returns every pending order for the merge target.
	FindPending(
		ctx context.Context,
		serviceOrderID string,
		orderType materialorder.OrderType,
	) ([]materialorder.MaterialOrder, error)

	// Query retrieves orders based on filter criteria.
	Query(
		ctx context.Context,
		filter *materialorder.QueryMaterialOrdersModel,
	) ([]materialorder.MaterialOrder, error)

	// Insert creates the order with version 1. A second pending order for the same
	// target is rejected with errs.ErrStaleVersion.
	Insert(ctx context.Context, order materialorder.MaterialOrder) (materialorder.MaterialOrder, error)

	// UpdateVersioned replaces the mutable columns if the stored version equals
	// expectedVersion and returns the order with its new version.
	UpdateVersioned(
		ctx context.Context,
		order materialorder.MaterialOrder,
		expectedVersion int64,
	) (materialorder.MaterialOrder, error)

	// DeleteVersioned deletes the order if the stored version equals expectedVersion.
	DeleteVersioned(ctx context.Context, id string, expectedVersion int64) error
}
