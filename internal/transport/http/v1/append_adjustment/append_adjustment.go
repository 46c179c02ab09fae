package appendadjustment

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	AppendAdjustment(ctx context.Context, orderID, itemCode string, adj orderitem.Adjustment) (orderitem.OrderItem, error)
}

// Request is one correction of an item.
type Request struct {
	Type     string          `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Date     *time.Time      `json:"date"`
	Comment  string          `json:"comment"`
}

// AppendAdjustment handles recording a correction and responds with the item.
func AppendAdjustment(w http.ResponseWriter, r *http.Request, service service) {
	var req Request
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, "append_adjustment", err)

		return
	}

	adj := orderitem.Adjustment{Type: req.Type, Quantity: req.Quantity, Comment: req.Comment}
	if req.Date != nil {
		adj.Date = *req.Date
	}

	orderID, err := converters.PathParam(r, "orderId")
	if err != nil {
		response.Error(w, r, "append_adjustment", err)

		return
	}
	itemCode, err := converters.PathParam(r, "itemCode")
	if err != nil {
		response.Error(w, r, "append_adjustment", err)

		return
	}

	item, err := service.AppendAdjustment(r.Context(), orderID, itemCode, adj)
	if err != nil {
		response.Error(w, r, "append_adjustment", err)

		return
	}

	response.JSON(w, http.StatusCreated, item)
}
