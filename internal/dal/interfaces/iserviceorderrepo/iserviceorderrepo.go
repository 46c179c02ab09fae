package iserviceorderrepo

import (
	"context"

	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
)

// IServiceOrderRepository is the read/delete port for service orders.
type IServiceOrderRepository interface {
	// Get returns the service order or errs.ErrNotFound.
	Get(ctx context.Context, id string) (serviceorder.ServiceOrder, error)

	// FindIDByOrderNumber maps a legacy order number to the canonical id.
	FindIDByOrderNumber(ctx context.Context, orderNumber string) (string, error)

	// Delete removes the service order row and returns the number of rows removed.
	Delete(ctx context.Context, id string) (int64, error)
}
