package deleteitem

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	DeleteItem(ctx context.Context, orderID, itemCode string) error
}

// DeleteItem handles removing an item. Absent items still answer 204.
func DeleteItem(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := converters.PathParam(r, "orderId")
	if err != nil {
		response.Error(w, r, "delete_item", err)

		return
	}
	itemCode, err := converters.PathParam(r, "itemCode")
	if err != nil {
		response.Error(w, r, "delete_item", err)

		return
	}

	if err := service.DeleteItem(r.Context(), orderID, itemCode); err != nil {
		response.Error(w, r, "delete_item", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
