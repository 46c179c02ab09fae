// Package errs defines the error taxonomy shared by the reconciliation services,
// their repositories and the transport layer.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input rejected before any store call.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an absent order, item or service order.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a data-integrity conflict the caller should re-fetch and retry.
	ErrConflict = errors.New("conflict")
	// ErrConcurrentModification is returned once optimistic-concurrency retries are exhausted.
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification", ErrConflict)
	// ErrStore marks a transport or availability failure of the backing store.
	ErrStore = errors.New("store error")
	// ErrPartialCascade marks a cascade deletion that removed only part of the dependents.
	ErrPartialCascade = errors.New("partial cascade failure")
	// ErrOutcomeUnknown marks a store failure on a write or commit whose effect could
	// not be confirmed. It always travels together with ErrStore.
	ErrOutcomeUnknown = errors.New("write outcome unknown")

	// ErrStaleVersion is returned by repositories when a conditioned write lost the race.
	// Services translate it into a retry and never surface it directly.
	ErrStaleVersion = errors.New("stale version")
	// ErrTxUnsupported is returned by stores that cannot run a transaction.
	ErrTxUnsupported = errors.New("transactions not supported")
)

// Validation builds an ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict builds an ErrConflict with a formatted message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Store wraps a backend error as ErrStore. Nil stays nil and errors already
// classified by this package are returned unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}

	return &StoreError{Op: op, Err: err}
}

// Uncertain marks a store failure of a write as outcome-unknown. Errors that are
// not store failures are returned unchanged: the store rejected those writes.
func Uncertain(err error) error {
	if err == nil || !errors.Is(err, ErrStore) || errors.Is(err, ErrOutcomeUnknown) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
}

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStore, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStore) match.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// ItemNotFoundError reports a missing item together with the codes that were present.
type ItemNotFoundError struct {
	OrderID   string
	ItemCode  string
	Available []string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("%s: item %q not in order %s (available: [%s])",
		ErrNotFound, e.ItemCode, e.OrderID, strings.Join(e.Available, ", "))
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *ItemNotFoundError) Is(target error) bool { return target == ErrNotFound }

// StepResult records one completed cascade step.
type StepResult struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// PartialCascadeError reports where a cascade deletion stopped.
// Removed lists the tables already emptied for the service order, FailedTable is the
// step that failed and Untouched are the steps that never ran.
type PartialCascadeError struct {
	ServiceOrderID string
	Removed        []StepResult
	FailedTable    string
	Untouched      []string
	Err            error
}

func (e *PartialCascadeError) Error() string {
	removed := make([]string, len(e.Removed))
	for i, r := range e.Removed {
		removed[i] = r.Table
	}

	return fmt.Sprintf("%s: service order %s: removed [%s], failed at %s: %v",
		ErrPartialCascade, e.ServiceOrderID, strings.Join(removed, ", "), e.FailedTable, e.Err)
}

func (e *PartialCascadeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPartialCascade) match.
func (e *PartialCascadeError) Is(target error) bool { return target == ErrPartialCascade }

// Classified reports whether err already carries a kind from this package.
func Classified(err error) bool {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrStore, ErrPartialCascade, ErrStaleVersion, ErrTxUnsupported} {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

// Kind names the taxonomy class of err for transports and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPartialCascade):
		return "partial_cascade"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "internal"
	}
}

// Changed reports whether a failed operation may have left persisted state changed:
// a partial cascade, or a write whose outcome is unknown. Everything else in the
// taxonomy is rejected or rolled back before any write becomes visible.
func Changed(err error) bool {
	return errors.Is(err, ErrPartialCascade) || errors.Is(err, ErrOutcomeUnknown)
}
