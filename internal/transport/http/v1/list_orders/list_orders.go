package listorders

import (
	"context"
	"net/http"
	"strconv"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/materialsvc"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	ListByServiceOrder(
		ctx context.Context,
		identifier string,
		filter materialsvc.ListFilter,
	) ([]materialorder.MaterialOrder, error)
}

// ListOrders handles listing the material orders of a service order.
// Query parameters: orderTypes and statuses as comma separated lists, limit, offset.
func ListOrders(w http.ResponseWriter, r *http.Request, service service) {
	query := r.URL.Query()

	filter := materialsvc.ListFilter{
		OrderTypes: converters.SplitList(query.Get("orderTypes")),
		Statuses:   converters.SplitList(query.Get("statuses")),
	}

	var err error
	if filter.Limit, err = parseInt(query.Get("limit")); err != nil {
		response.Error(w, r, "list", errs.Validation("limit: %v", err))

		return
	}
	if filter.Offset, err = parseInt(query.Get("offset")); err != nil {
		response.Error(w, r, "list", errs.Validation("offset: %v", err))

		return
	}

	serviceOrderID, err := converters.PathParam(r, "serviceOrderId")
	if err != nil {
		response.Error(w, r, "list", err)

		return
	}

	orders, err := service.ListByServiceOrder(r.Context(), serviceOrderID, filter)
	if err != nil {
		response.Error(w, r, "list", err)

		return
	}

	response.JSON(w, http.StatusOK, converters.MaterialOrdersToResponse(orders))
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	return strconv.Atoi(s)
}
