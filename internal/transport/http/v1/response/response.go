// Package response writes JSON bodies and maps service errors to HTTP statuses.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
)

// ErrorBody is the JSON body of every failed request. StateChanged tells the
// caller whether anything may have been persisted before the failure.
type ErrorBody struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	StateChanged bool   `json:"stateChanged"`
	Details      any    `json:"details,omitempty"`
}

// ItemNotFoundDetails accompanies a missing item.
type ItemNotFoundDetails struct {
	ItemCode  string   `json:"itemCode"`
	Available []string `json:"available"`
}

// PartialCascadeDetails accompanies a cascade that stopped part way.
type PartialCascadeDetails struct {
	ServiceOrderID string            `json:"serviceOrderId"`
	Removed        []errs.StepResult `json:"removed"`
	FailedTable    string            `json:"failedTable"`
	Untouched      []string          `json:"untouched"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error writing response", "error", err)
	}
}

// Status maps an error kind to its HTTP status.
func Status(err error) int {
	switch errs.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "concurrent_modification", "conflict":
		return http.StatusConflict
	case "store":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an ErrorBody and logs it.
func Error(w http.ResponseWriter, r *http.Request, op string, err error) {
	body := ErrorBody{
		Error:        err.Error(),
		Kind:         errs.Kind(err),
		StateChanged: errs.Changed(err),
	}

	var itemErr *errs.ItemNotFoundError
	var partial *errs.PartialCascadeError
	switch {
	case errors.As(err, &partial):
		body.Details = PartialCascadeDetails{
			ServiceOrderID: partial.ServiceOrderID,
			Removed:        partial.Removed,
			FailedTable:    partial.FailedTable,
			Untouched:      partial.Untouched,
		}
	case errors.As(err, &itemErr):
		body.Details = ItemNotFoundDetails{ItemCode: itemErr.ItemCode, Available: itemErr.Available}
	}

	status := Status(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "Request failed", "op", op, "kind", body.Kind, "error", err)

	JSON(w, status, body)
}

// Decode reads a JSON body into v. Numbers are kept as json.Number.
func Decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return errs.Validation("failed to decode request body: %v", err)
	}

	return nil
}
