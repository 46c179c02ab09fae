package httptransport_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/corray333/backend-labs/materials/internal/dal/repositories/memory"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/cascadesvc"
	"github.com/corray333/backend-labs/materials/internal/service/services/materialsvc"
	"github.com/corray333/backend-labs/materials/internal/service/services/resolver"
	httptransport "github.com/corray333/backend-labs/materials/internal/transport/http"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

type testServer struct {
	*httptest.Server
	store          *memory.Store
	serviceOrderID string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	serviceOrderID := uuid.NewString()
	store.AddServiceOrder(serviceorder.ServiceOrder{ID: serviceOrderID, OrderNumber: "EV-1"})
	store.AddDependentRow("briefings", cascade.ColumnServiceOrderID, uuid.NewString(), serviceOrderID)

	idResolver := resolver.New(store.ServiceOrders())
	materials := materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(store.MaterialOrders()),
		materialsvc.WithResolver(idResolver),
	)
	cascades := cascadesvc.MustNewCascadeService(
		cascadesvc.WithResolver(idResolver),
		cascadesvc.WithRepositories(store.ServiceOrders(), store.Dependents(), store.Checkpoints()),
	)

	transport := httptransport.NewHTTPTransport(materials, cascades)
	transport.RegisterRoutes()
	ts := httptest.NewServer(transport.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, store: store, serviceOrderID: serviceOrderID}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

type upsertResult struct {
	OrderID   string          `json:"orderId"`
	ItemCount int             `json:"itemCount"`
	Total     decimal.Decimal `json:"total"`
	Created   bool            `json:"created"`
}

type orderResponse struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	TotalConsistent bool            `json:"totalConsistent"`
	Items           []struct {
		ItemCode    string           `json:"itemCode"`
		Quantity    decimal.Decimal  `json:"quantity"`
		LineTotal   decimal.Decimal  `json:"lineTotal"`
		Adjustments []map[string]any `json:"adjustments"`
	} `json:"items"`
}

type errorBody struct {
	response.ErrorBody
	Details map[string]any `json:"details"`
}

func items(list ...map[string]any) map[string]any {
	return map[string]any{"orderType": "Rental", "items": list}
}

func TestMaterialOrderLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	base := "/api/v1/service-orders/EV-1/material-orders"

	var created upsertResult
	status := s.do(t, http.MethodPost, base, items(map[string]any{"itemCode": "A", "quantity": 2, "price": 5}), &created)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, created.Created)
	require.Equal(t, "10", created.Total.String())

	var merged upsertResult
	status = s.do(t, http.MethodPost, "/api/v1/service-orders/"+s.serviceOrderID+"/material-orders", items(
		map[string]any{"itemCode": "A", "quantity": 3, "price": 5},
		map[string]any{"itemCode": "B", "quantity": 1, "price": 20},
	), &merged)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, created.OrderID, merged.OrderID)
	require.Equal(t, "45", merged.Total.String())
	require.Equal(t, 2, merged.ItemCount)

	orderPath := "/api/v1/material-orders/" + created.OrderID
	var item struct {
		LineTotal decimal.Decimal `json:"lineTotal"`
	}
	status = s.do(t, http.MethodPatch, orderPath+"/items/A", map[string]any{"field": "quantity", "value": 1}, &item)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "5", item.LineTotal.String())

	var order orderResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, orderPath, nil, &order))
	require.Equal(t, "25", order.Total.String())
	require.True(t, order.TotalConsistent)

	var missing errorBody
	status = s.do(t, http.MethodPatch, orderPath+"/items/Z", map[string]any{"field": "price", "value": 1}, &missing)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", missing.Kind)
	require.False(t, missing.StateChanged)
	require.ElementsMatch(t, []any{"A", "B"}, missing.Details["available"])

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, orderPath+"/items/B", nil, nil))
	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, orderPath+"/items/B", nil, nil))

	var adjusted struct {
		Adjustments []map[string]any `json:"adjustments"`
	}
	status = s.do(t, http.MethodPost, orderPath+"/items/A/adjustments", map[string]any{"type": "damage", "quantity": -1}, &adjusted)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, adjusted.Adjustments, 1)

	var list []orderResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, base+"?orderTypes=rental", nil, &list))
	require.Len(t, list, 1)
	require.Len(t, list[0].Items, 1)

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, orderPath+"/items/A", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, orderPath, nil, &missing))
}

func TestItemCodesWithEscapedSlashes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	var created upsertResult
	status := s.do(t, http.MethodPost, "/api/v1/service-orders/EV-1/material-orders",
		items(
			map[string]any{"itemCode": "A/B", "quantity": "1.5", "price": "2.10"},
			map[string]any{"itemCode": "C D", "quantity": 1, "price": 1},
		), &created)
	require.Equal(t, http.StatusCreated, status)
	orderPath := "/api/v1/material-orders/" + created.OrderID

	var item struct {
		ItemCode string          `json:"itemCode"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	status = s.do(t, http.MethodPatch, orderPath+"/items/A%2FB", map[string]any{"field": "quantity", "value": 3}, &item)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "A/B", item.ItemCode)
	require.Equal(t, "3", item.Quantity.String())

	status = s.do(t, http.MethodPost, orderPath+"/items/A%2FB/adjustments", map[string]any{"type": "damage", "quantity": "-0.5"}, nil)
	require.Equal(t, http.StatusCreated, status)

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, orderPath+"/items/C%20D", nil, nil))

	var order orderResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, orderPath, nil, &order))
	require.Len(t, order.Items, 1)
	require.Equal(t, "A/B", order.Items[0].ItemCode)
	require.Len(t, order.Items[0].Adjustments, 1)
	require.Equal(t, "6.3", order.Total.String())

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, orderPath+"/items/A%2FB", nil, nil))
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, orderPath, nil, nil))
}

func TestFrozenOrderEditsConflict(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	line := orderitem.OrderItem{ItemCode: "A", Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(5)}
	line.Recalculate()
	frozen := materialorder.MaterialOrder{
		ID:             uuid.NewString(),
		ServiceOrderID: s.serviceOrderID,
		OrderType:      materialorder.OrderTypeRental,
		Status:         materialorder.StatusSent,
		Items:          []orderitem.OrderItem{line},
		Version:        1,
	}
	frozen.RecomputeTotal()
	s.store.PutOrder(frozen)
	orderPath := "/api/v1/material-orders/" + frozen.ID

	var body errorBody
	status := s.do(t, http.MethodPatch, orderPath+"/items/A", map[string]any{"field": "price", "value": 1}, &body)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "conflict", body.Kind)
	require.False(t, body.StateChanged)

	require.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, orderPath+"/items/A", nil, &body))

	var order orderResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, orderPath, nil, &order))
	require.Equal(t, "Sent", order.Status)
	require.Equal(t, "10", order.Total.String())
}

func TestUpsertValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	base := "/api/v1/service-orders/EV-1/material-orders"

	var body errorBody
	status := s.do(t, http.MethodPost, base, items(map[string]any{"quantity": 2, "price": 5}), &body)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation", body.Kind)

	status = s.do(t, http.MethodPost, base, items(map[string]any{"itemCode": "A", "price": 5}), &body)
	require.Equal(t, http.StatusBadRequest, status)

	status = s.do(t, http.MethodPost, "/api/v1/service-orders/EV-404/material-orders",
		items(map[string]any{"itemCode": "A", "quantity": 1, "price": 5}), &body)
	require.Equal(t, http.StatusNotFound, status)

	var list []orderResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, base, nil, &list))
	require.Empty(t, list)
}

func TestServiceOrderDeletion(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	status := s.do(t, http.MethodPost, "/api/v1/service-orders/EV-1/material-orders",
		items(map[string]any{"itemCode": "A", "quantity": 1, "price": 5}), nil)
	require.Equal(t, http.StatusCreated, status)

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/service-orders/EV-1", nil, nil))
	require.Zero(t, s.store.CountReferences("briefings", cascade.ColumnServiceOrderID, s.serviceOrderID))
	require.Zero(t, s.store.CountReferences("material_orders", cascade.ColumnServiceOrderID, s.serviceOrderID))

	var body errorBody
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/service-orders/"+s.serviceOrderID, nil, &body))
}

func TestBulkDeleteReportsPartialOutcome(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	missing := uuid.NewString()

	var res cascade.BulkResult
	status := s.do(t, http.MethodPost, "/api/v1/service-orders/bulk-delete",
		map[string]any{"ids": []string{s.serviceOrderID, missing}}, &res)
	require.Equal(t, http.StatusMultiStatus, status)
	require.Equal(t, []string{s.serviceOrderID}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	require.Equal(t, missing, res.Failed[0].ID)
	require.Equal(t, "not_found", res.Failed[0].Kind)

	var body errorBody
	status = s.do(t, http.MethodPost, "/api/v1/service-orders/bulk-delete", map[string]any{"ids": []string{}}, &body)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	resp, err := s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
