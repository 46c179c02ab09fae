package upsertorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/service/services/materialsvc"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	Upsert(ctx context.Context, req materialsvc.UpsertRequest) (materialsvc.UpsertResult, error)
}

// Upsert handles adding a batch of items to the pending order of a service order.
// Responds 201 when the order was created and 200 when the batch was merged.
func Upsert(w http.ResponseWriter, r *http.Request, service service) {
	var req converters.UpsertRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, "upsert", err)

		return
	}

	serviceOrderID, err := converters.PathParam(r, "serviceOrderId")
	if err != nil {
		response.Error(w, r, "upsert", err)

		return
	}

	items, err := converters.OrderItemsFromRequest(req.Items)
	if err != nil {
		response.Error(w, r, "upsert", err)

		return
	}

	res, err := service.Upsert(r.Context(), materialsvc.UpsertRequest{
		ServiceOrderID: serviceOrderID,
		OrderType:      req.OrderType,
		Items:          items,
		Delivery:       converters.DeliveryFromRequest(req.Delivery),
		Days:           req.Days,
		ContractNumber: req.ContractNumber,
	})
	if err != nil {
		response.Error(w, r, "upsert", err)

		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	response.JSON(w, status, res)
}
