package response_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/transport/http/v1/response"
)

func TestStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{errs.Validation("bad"), http.StatusBadRequest},
		{errs.NotFound("order"), http.StatusNotFound},
		{fmt.Errorf("upsert: %w", errs.ErrConcurrentModification), http.StatusConflict},
		{errs.Conflict("two pending"), http.StatusConflict},
		{errs.Store("get", errors.New("timeout")), http.StatusServiceUnavailable},
		{errs.Uncertain(errs.Store("update", errors.New("reset"))), http.StatusServiceUnavailable},
		{&errs.PartialCascadeError{ServiceOrderID: "so", Err: errs.Store("delete", errors.New("down"))}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		require.Equal(t, tc.status, response.Status(tc.err), tc.err.Error())
	}
}

func TestErrorBody(t *testing.T) {
	t.Parallel()

	t.Run("item not found carries available codes", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/material-orders/o1/items/X", nil)
		response.Error(rec, req, "update_item", &errs.ItemNotFoundError{
			OrderID:   "o1",
			ItemCode:  "X",
			Available: []string{"A", "B"},
		})

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Kind         string                       `json:"kind"`
			StateChanged bool                         `json:"stateChanged"`
			Details      response.ItemNotFoundDetails `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "not_found", body.Kind)
		require.False(t, body.StateChanged)
		require.Equal(t, "X", body.Details.ItemCode)
		require.Equal(t, []string{"A", "B"}, body.Details.Available)
	})

	t.Run("uncertain write reports changed state", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/material-orders/o1/items/A", nil)
		response.Error(rec, req, "update_item", errs.Uncertain(errs.Store("material_orders.update", errors.New("reset"))))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Kind         string `json:"kind"`
			StateChanged bool   `json:"stateChanged"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "store", body.Kind)
		require.True(t, body.StateChanged)
	})

	t.Run("partial cascade reports the boundary", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/service-orders/so", nil)
		response.Error(rec, req, "delete_service_order", &errs.PartialCascadeError{
			ServiceOrderID: "so",
			Removed:        []errs.StepResult{{Table: "material_orders", Rows: 2}},
			FailedTable:    "briefings",
			Untouched:      []string{"cost_records"},
			Err:            errs.Store("delete", errors.New("down")),
		})

		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body struct {
			Kind         string                         `json:"kind"`
			StateChanged bool                           `json:"stateChanged"`
			Details      response.PartialCascadeDetails `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "partial_cascade", body.Kind)
		require.True(t, body.StateChanged)
		require.Equal(t, "briefings", body.Details.FailedTable)
		require.Equal(t, []errs.StepResult{{Table: "material_orders", Rows: 2}}, body.Details.Removed)
		require.Equal(t, []string{"cost_records"}, body.Details.Untouched)
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	var v map[string]any
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"value": 2.50}`))
	require.NoError(t, response.Decode(req, &v))
	require.Equal(t, json.Number("2.50"), v["value"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.ErrorIs(t, response.Decode(req, &v), errs.ErrValidation)
}
