package recomputetotal

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	RecomputeTotal(ctx context.Context, orderID string) (materialorder.MaterialOrder, error)
}

// RecomputeTotal handles repairing a stale order total.
func RecomputeTotal(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := converters.PathParam(r, "orderId")
	if err != nil {
		response.Error(w, r, "recompute_total", err)

		return
	}

	order, err := service.RecomputeTotal(r.Context(), orderID)
	if err != nil {
		response.Error(w, r, "recompute_total", err)

		return
	}

	response.JSON(w, http.StatusOK, converters.MaterialOrderToResponse(order))
}
