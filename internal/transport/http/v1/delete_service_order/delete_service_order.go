package deleteserviceorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/converters"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

// service is an interface for the service layer.
type service interface {
	DeleteServiceOrder(ctx context.Context, identifier string) error
	ResumeServiceOrderDeletion(ctx context.Context, identifier string) error
	DeleteServiceOrdersBulk(ctx context.Context, identifiers []string) (cascade.BulkResult, error)
}

// BulkRequest lists the service orders to delete.
type BulkRequest struct {
	IDs []string `json:"ids"`
}

// DeleteServiceOrder handles the cascade deletion of one service order.
func DeleteServiceOrder(w http.ResponseWriter, r *http.Request, service service) {
	serviceOrderID, err := converters.PathParam(r, "serviceOrderId")
	if err != nil {
		response.Error(w, r, "delete_service_order", err)

		return
	}

	if err := service.DeleteServiceOrder(r.Context(), serviceOrderID); err != nil {
		response.Error(w, r, "delete_service_order", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResumeDeletion handles rolling forward a cascade that stopped part way.
func ResumeDeletion(w http.ResponseWriter, r *http.Request, service service) {
	serviceOrderID, err := converters.PathParam(r, "serviceOrderId")
	if err != nil {
		response.Error(w, r, "resume_deletion", err)

		return
	}

	if err := service.ResumeServiceOrderDeletion(r.Context(), serviceOrderID); err != nil {
		response.Error(w, r, "resume_deletion", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BulkDelete handles deleting several service orders. The body lists every
// succeeded and failed id; it answers 200 when all succeeded and 207 otherwise.
func BulkDelete(w http.ResponseWriter, r *http.Request, service service) {
	var req BulkRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, "bulk_delete", err)

		return
	}

	res, err := service.DeleteServiceOrdersBulk(r.Context(), req.IDs)
	if err != nil {
		response.Error(w, r, "bulk_delete", err)

		return
	}

	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(w, status, res)
}
