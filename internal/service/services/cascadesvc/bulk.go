package cascadesvc

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
)

// DeleteServiceOrdersBulk runs DeleteServiceOrder for every identifier and reports
// each outcome. One id failing never stops the others. Repeated identifiers are
// processed once. Results keep the input order.
func (s *CascadeService) DeleteServiceOrdersBulk(ctx context.Context, identifiers []string) (res cascade.BulkResult, err error) {
	ctx, finish := s.start(ctx, "delete_service_orders_bulk", attribute.Int("ids", len(identifiers)))
	defer func() { finish(err) }()

	ids := make([]string, 0, len(identifiers))
	seen := make(map[string]struct{}, len(identifiers))
	for _, raw := range identifiers {
		id := strings.TrimSpace(raw)
		if id == "" {
			return cascade.BulkResult{}, errs.Validation("service order identifiers must not be empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return cascade.BulkResult{}, errs.Validation("at least one service order identifier is required")
	}

	outcomes := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = s.DeleteServiceOrder(ctx, id)

			return nil
		})
	}
	_ = g.Wait()

	res = cascade.BulkResult{Succeeded: []string{}, Failed: []cascade.FailedID{}}
	for i, id := range ids {
		if outcomes[i] == nil {
			res.Succeeded = append(res.Succeeded, id)
			continue
		}
		res.Failed = append(res.Failed, failedID(id, outcomes[i]))
	}

	return res, nil
}

func failedID(id string, err error) cascade.FailedID {
	f := cascade.FailedID{
		ID:           id,
		Kind:         errs.Kind(err),
		Error:        err.Error(),
		StateChanged: errs.Changed(err),
	}
	var partial *errs.PartialCascadeError
	if errors.As(err, &partial) {
		for _, r := range partial.Removed {
			f.Removed = append(f.Removed, r.Table)
		}
		f.FailedTable = partial.FailedTable
	}

	return f
}
