package updateitem

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	UpdateItemField(ctx context.Context, orderID, itemCode, field string, value any) (orderitem.OrderItem, error)
}

// Request changes one field of one item.
type Request struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// UpdateItem handles a single field update and responds with the updated item.
func UpdateItem(w http.ResponseWriter, r *http.Request, service service) {
	var req Request
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, "update_item", err)

		return
	}
	if req.Field == "" {
		response.Error(w, r, "update_item", errs.Validation("field is required"))

		return
	}

	orderID, err := converters.PathParam(r, "orderId")
	if err != nil {
		response.Error(w, r, "update_item", err)

		return
	}
	itemCode, err := converters.PathParam(r, "itemCode")
	if err != nil {
		response.Error(w, r, "update_item", err)

		return
	}

	item, err := service.UpdateItemField(r.Context(), orderID, itemCode, req.Field, req.Value)
	if err != nil {
		response.Error(w, r, "update_item", err)

		return
	}

	response.JSON(w, http.StatusOK, item)
}
