package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/corray333/backend-labs/materials/internal/metrics"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/materials/internal/service/services/materialsvc"
	appendadjustment "github.com/corray333/backend-labs/materials/internal/transport/http/v1/append_adjustment"
	deleteitem "github.com/corray333/backend-labs/materials/internal/transport/http/v1/delete_item"
	deleteserviceorder "github.com/corray333/backend-labs/materials/internal/transport/http/v1/delete_service_order"
	getorder "github.com/corray333/backend-labs/materials/internal/transport/http/v1/get_order"
	listorders "github.com/corray333/backend-labs/materials/internal/transport/http/v1/list_orders"
	recomputetotal "github.com/corray333/backend-labs/materials/internal/transport/http/v1/recompute_total"
	updateitem "github.com/corray333/backend-labs/materials/internal/transport/http/v1/update_item"
	upsertorder "github.com/corray333/backend-labs/materials/internal/transport/http/v1/upsert_order"
	"github.com/corray333/backend-labs/materials/pkg/http/middleware/trace"
	"github.com/corray333/backend-labs/materials/pkg/logger"
)

type materialService interface {
	Upsert(ctx context.Context, req materialsvc.UpsertRequest) (materialsvc.UpsertResult, error)
	UpdateItemField(ctx context.Context, orderID, itemCode, field string, value any) (orderitem.OrderItem, error)
	DeleteItem(ctx context.Context, orderID, itemCode string) error
	AppendAdjustment(ctx context.Context, orderID, itemCode string, adj orderitem.Adjustment) (orderitem.OrderItem, error)
	Get(ctx context.Context, orderID string) (materialorder.MaterialOrder, error)
	ListByServiceOrder(ctx context.Context, identifier string, filter materialsvc.ListFilter) ([]materialorder.MaterialOrder, error)
	RecomputeTotal(ctx context.Context, orderID string) (materialorder.MaterialOrder, error)
}

type cascadeService interface {
	DeleteServiceOrder(ctx context.Context, identifier string) error
	ResumeServiceOrderDeletion(ctx context.Context, identifier string) error
	DeleteServiceOrdersBulk(ctx context.Context, identifiers []string) (cascade.BulkResult, error)
}

type HTTPTransport struct {
	server    *http.Server
	router    *chi.Mux
	materials materialService
	cascade   cascadeService
}

func NewHTTPTransport(materials materialService, cascade cascadeService) *HTTPTransport {
	router := newRouter()
	server := newServer(router)

	return &HTTPTransport{
		server:    server,
		router:    router,
		materials: materials,
		cascade:   cascade,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Handler exposes the router.
func (h *HTTPTransport) Handler() http.Handler {
	return h.router
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Handle("/metrics", promhttp.Handler())

	h.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/service-orders", func(r chi.Router) {
			r.Post("/bulk-delete", h.bulkDelete)
			r.Route("/{serviceOrderId}", func(r chi.Router) {
				r.Delete("/", h.deleteServiceOrder)
				r.Post("/resume-deletion", h.resumeDeletion)
				r.Get("/material-orders", h.listOrders)
				r.Post("/material-orders", h.upsert)
			})
		})

		r.Route("/material-orders/{orderId}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Post("/recompute-total", h.recomputeTotal)
			r.Route("/items/{itemCode}", func(r chi.Router) {
				r.Patch("/", h.updateItem)
				r.Delete("/", h.deleteItem)
				r.Post("/adjustments", h.appendAdjustment)
			})
		})
	})
}

func (h *HTTPTransport) upsert(w http.ResponseWriter, r *http.Request) {
	upsertorder.Upsert(w, r, h.materials)
}

func (h *HTTPTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrders(w, r, h.materials)
}

func (h *HTTPTransport) getOrder(w http.ResponseWriter, r *http.Request) {
	getorder.GetOrder(w, r, h.materials)
}

func (h *HTTPTransport) updateItem(w http.ResponseWriter, r *http.Request) {
	updateitem.UpdateItem(w, r, h.materials)
}

func (h *HTTPTransport) deleteItem(w http.ResponseWriter, r *http.Request) {
	deleteitem.DeleteItem(w, r, h.materials)
}

func (h *HTTPTransport) appendAdjustment(w http.ResponseWriter, r *http.Request) {
	appendadjustment.AppendAdjustment(w, r, h.materials)
}

func (h *HTTPTransport) recomputeTotal(w http.ResponseWriter, r *http.Request) {
	recomputetotal.RecomputeTotal(w, r, h.materials)
}

func (h *HTTPTransport) deleteServiceOrder(w http.ResponseWriter, r *http.Request) {
	deleteserviceorder.DeleteServiceOrder(w, r, h.cascade)
}

func (h *HTTPTransport) resumeDeletion(w http.ResponseWriter, r *http.Request) {
	deleteserviceorder.ResumeDeletion(w, r, h.cascade)
}

func (h *HTTPTransport) bulkDelete(w http.ResponseWriter, r *http.Request) {
	deleteserviceorder.BulkDelete(w, r, h.cascade)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(trace.NewTraceMiddleware)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))
	router.Use(metrics.NewHTTPMiddleware)

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
