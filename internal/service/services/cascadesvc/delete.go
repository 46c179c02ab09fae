package cascadesvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/corray333/backend-labs/materials/internal/metrics"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

// DeleteServiceOrder deletes every dependent row of the service order, table by
// table in the configured order, and then the service order itself.
//
// In transactional mode a failure rolls everything back and is returned as is. A
// failed commit may still have been applied and is reported as outcome-unknown.
// In checkpointed mode each finished table is recorded; a failure after at least
// one table was emptied is returned as *errs.PartialCascadeError and can be rolled
// forward with ResumeServiceOrderDeletion. Cancellation between steps is handled
// like a failing step.
func (s *CascadeService) DeleteServiceOrder(ctx context.Context, identifier string) (err error) {
	mode := s.effectiveMode()
	ctx, finish := s.start(ctx, "delete_service_order",
		attribute.String("service_order", identifier),
		attribute.String("mode", string(mode)),
	)
	defer func() {
		metrics.RecordCascade(string(mode), errs.Kind(err))
		finish(err)
	}()

	id, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return err
	}

	if _, err := storecall.Read(ctx, s.policy, "service_orders.get", func(ctx context.Context) (serviceorder.ServiceOrder, error) {
		return s.serviceOrders.Get(ctx, id)
	}); err != nil {
		return err
	}

	var steps []errs.StepResult
	if mode == cascade.ModeTransactional {
		steps, err = s.deleteInTransaction(ctx, id)
	} else {
		steps, err = s.deleteCheckpointed(ctx, id)
	}
	s.report(ctx, id, steps, err)

	return err
}

// ResumeServiceOrderDeletion finishes a checkpointed cascade that stopped part way.
// Finished tables are skipped. Resuming a service order with nothing left to delete
// is a no-op.
func (s *CascadeService) ResumeServiceOrderDeletion(ctx context.Context, identifier string) (err error) {
	ctx, finish := s.start(ctx, "resume_service_order_deletion", attribute.String("service_order", identifier))
	defer func() {
		metrics.RecordCascade("resume", errs.Kind(err))
		finish(err)
	}()

	if s.checkpoints == nil {
		return fmt.Errorf("resume requires checkpoints: %w", errs.ErrTxUnsupported)
	}

	id, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return err
	}

	done, err := s.listCheckpoints(ctx, id)
	if err != nil {
		return err
	}
	_, err = storecall.Read(ctx, s.policy, "service_orders.get", func(ctx context.Context) (serviceorder.ServiceOrder, error) {
		return s.serviceOrders.Get(ctx, id)
	})
	switch {
	case errors.Is(err, errs.ErrNotFound) && len(done) == 0:
		return err
	case errors.Is(err, errs.ErrNotFound):
		// The row went last, so only the checkpoint cleanup was missed.
		s.clearCheckpoints(ctx, id)

		return nil
	case err != nil:
		return err
	}

	steps, err := s.deleteCheckpointed(ctx, id)
	s.report(ctx, id, steps, err)

	return err
}

func (s *CascadeService) deleteInTransaction(ctx context.Context, id string) ([]errs.StepResult, error) {
	work := s.newUOW()
	if err := storecall.Exec(ctx, s.policy, "cascade.begin", work.Begin); err != nil {
		return nil, err
	}
	defer func() {
		if err := work.Rollback(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "Cascade rollback failed", "service_order_id", id, "error", err)
		}
	}()

	steps := make([]errs.StepResult, 0, len(s.tables)+1)
	for _, dep := range s.tables {
		if err := ctx.Err(); err != nil {
			return nil, rolledBack(id, dep.Table, errs.Store("cascade", err))
		}
		rows, err := storecall.Do(ctx, s.policy, dep.Table+".delete", func(ctx context.Context) (int64, error) {
			return work.DependentRepository().DeleteByColumn(ctx, dep, id)
		})
		if err != nil {
			return nil, rolledBack(id, dep.Table, err)
		}
		steps = append(steps, errs.StepResult{Table: dep.Table, Rows: rows})
	}

	rows, err := storecall.Do(ctx, s.policy, "service_orders.delete", func(ctx context.Context) (int64, error) {
		return work.ServiceOrderRepository().Delete(ctx, id)
	})
	if err != nil {
		return nil, rolledBack(id, ServiceOrdersTable, err)
	}
	steps = append(steps, errs.StepResult{Table: ServiceOrdersTable, Rows: rows})

	if err := storecall.Exec(ctx, s.policy, "cascade.commit", work.Commit); err != nil {
		if err = errs.Uncertain(err); errs.Changed(err) {
			return nil, fmt.Errorf("cascade of service order %s: commit outcome unknown: %w", id, err)
		}

		return nil, rolledBack(id, "commit", err)
	}

	return steps, nil
}

func rolledBack(id, step string, err error) error {
	return fmt.Errorf("cascade of service order %s failed at %s, nothing was deleted: %w", id, step, err)
}

func (s *CascadeService) deleteCheckpointed(ctx context.Context, id string) ([]errs.StepResult, error) {
	done, err := s.listCheckpoints(ctx, id)
	if err != nil {
		return nil, err
	}

	removed := make([]errs.StepResult, 0, len(s.tables)+1)
	for i, dep := range s.tables {
		if rows, ok := done[dep.Table]; ok {
			removed = append(removed, errs.StepResult{Table: dep.Table, Rows: rows})
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, s.stopped(id, removed, dep.Table, i+1, errs.Store("cascade", err))
		}

		rows, err := storecall.Do(ctx, s.policy, dep.Table+".delete", func(ctx context.Context) (int64, error) {
			return s.dependents.DeleteByColumn(ctx, dep, id)
		})
		if err != nil {
			return removed, s.stopped(id, removed, dep.Table, i+1, errs.Uncertain(err))
		}

		err = storecall.Exec(ctx, s.policy, "cascade_checkpoints.save", func(ctx context.Context) error {
			return s.checkpoints.Save(ctx, cascade.Checkpoint{
				ServiceOrderID: id,
				Table:          dep.Table,
				Rows:           rows,
				CompletedAt:    s.now().UTC(),
			})
		})
		removed = append(removed, errs.StepResult{Table: dep.Table, Rows: rows})
		if err != nil {
			// The rows are gone, the record of it is not. Resume repeats the delete.
			return removed, s.stopped(id, removed, checkpointsTable, i+1, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return removed, s.stopped(id, removed, ServiceOrdersTable, len(s.tables)+1, errs.Store("cascade", err))
	}
	rows, err := storecall.Do(ctx, s.policy, "service_orders.delete", func(ctx context.Context) (int64, error) {
		return s.serviceOrders.Delete(ctx, id)
	})
	if err != nil {
		return removed, s.stopped(id, removed, ServiceOrdersTable, len(s.tables)+1, errs.Uncertain(err))
	}
	removed = append(removed, errs.StepResult{Table: ServiceOrdersTable, Rows: rows})
	s.clearCheckpoints(ctx, id)

	return removed, nil
}

// stopped builds the error for a checkpointed cascade that failed at the named step.
// Steps from index next on never ran; index len(tables) is the service order row.
// Nothing removed yet is a plain failure. It changed nothing unless the failed step
// itself may have been applied.
func (s *CascadeService) stopped(id string, removed []errs.StepResult, failed string, next int, err error) error {
	if len(removed) == 0 {
		if errs.Changed(err) {
			return fmt.Errorf("cascade of service order %s failed at %s, outcome unknown: %w", id, failed, err)
		}

		return rolledBack(id, failed, err)
	}

	var untouched []string
	for i := next; i <= len(s.tables); i++ {
		if i < len(s.tables) {
			untouched = append(untouched, s.tables[i].Table)
		} else {
			untouched = append(untouched, ServiceOrdersTable)
		}
	}

	return &errs.PartialCascadeError{
		ServiceOrderID: id,
		Removed:        append([]errs.StepResult(nil), removed...),
		FailedTable:    failed,
		Untouched:      untouched,
		Err:            err,
	}
}

func (s *CascadeService) listCheckpoints(ctx context.Context, id string) (map[string]int64, error) {
	if s.checkpoints == nil {
		return map[string]int64{}, nil
	}
	list, err := storecall.Read(ctx, s.policy, "cascade_checkpoints.list", func(ctx context.Context) ([]cascade.Checkpoint, error) {
		return s.checkpoints.List(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	done := make(map[string]int64, len(list))
	for _, cp := range list {
		done[cp.Table] = cp.Rows
	}

	return done, nil
}

func (s *CascadeService) clearCheckpoints(ctx context.Context, id string) {
	if s.checkpoints == nil {
		return
	}
	err := storecall.Exec(context.WithoutCancel(ctx), s.policy, "cascade_checkpoints.clear", func(ctx context.Context) error {
		return s.checkpoints.Clear(ctx, id)
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to clear cascade checkpoints", "service_order_id", id, "error", err)
	}
}

// report logs the outcome and publishes the matching event.
func (s *CascadeService) report(ctx context.Context, id string, steps []errs.StepResult, err error) {
	var partial *errs.PartialCascadeError
	switch {
	case err == nil:
		slog.InfoContext(ctx, "Service order deleted", "service_order_id", id, "steps", steps)
		s.publish(ctx, event.ServiceOrderDeleted, id, map[string]any{"steps": steps})
	case errors.As(err, &partial):
		slog.ErrorContext(ctx, "Service order cascade stopped part way",
			"service_order_id", id,
			"removed", partial.Removed,
			"failed_table", partial.FailedTable,
			"untouched", partial.Untouched,
			"error", partial.Err,
		)
		s.publish(ctx, event.ServiceOrderPartial, id, map[string]any{
			"removed":     partial.Removed,
			"failedTable": partial.FailedTable,
			"untouched":   partial.Untouched,
			"error":       partial.Err.Error(),
		})
	case errs.Changed(err):
		slog.ErrorContext(ctx, "Service order cascade failed, outcome unknown", "service_order_id", id, "error", err)
	default:
		slog.WarnContext(ctx, "Service order cascade failed, nothing changed", "service_order_id", id, "error", err)
	}
}

func (s *CascadeService) publish(ctx context.Context, typ event.Type, id string, data any) {
	if s.publisher == nil {
		return
	}
	evt := event.Event{
		ID:          uuid.NewString(),
		Type:        typ,
		AggregateID: id,
		OccurredAt:  s.now().UTC(),
		Data:        data,
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish domain event", "event_type", typ, "aggregate_id", id, "error", err)
	}
}
