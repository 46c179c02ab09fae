package getorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	Get(ctx context.Context, orderID string) (materialorder.MaterialOrder, error)
}

// GetOrder handles fetching one material order.
func GetOrder(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := converters.PathParam(r, "orderId")
	if err != nil {
		response.Error(w, r, "get", err)

		return
	}

	order, err := service.Get(r.Context(), orderID)
	if err != nil {
		response.Error(w, r, "get", err)

		return
	}

	response.JSON(w, http.StatusOK, converters.MaterialOrderToResponse(order))
}
