package materialsvc

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

// Get returns one material order.
func (s *MaterialService) Get(ctx context.Context, orderID string) (order materialorder.MaterialOrder, err error) {
	ctx, finish := s.start(ctx, "get", attribute.String("order_id", orderID))
	defer func() { finish(err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return materialorder.MaterialOrder{}, errs.Validation("order id is required")
	}

	current, err := s.getOrder(orderID)(ctx)
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}

	return *current, nil
}

// ListFilter narrows ListByServiceOrder. Empty fields match everything.
type ListFilter struct {
	OrderTypes []string
	Statuses   []string
	Limit      int
	Offset     int
}

// ListByServiceOrder returns the orders of a service order addressed by canonical id
// or legacy order number, oldest first.
func (s *MaterialService) ListByServiceOrder(
	ctx context.Context,
	identifier string,
	filter ListFilter,
) (orders []materialorder.MaterialOrder, err error) {
	ctx, finish := s.start(ctx, "list", attribute.String("service_order", identifier))
	defer func() { finish(err) }()

	query := &materialorder.QueryMaterialOrdersModel{Limit: filter.Limit, Offset: filter.Offset}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, errs.Validation("limit and offset must not be negative")
	}
	for _, t := range filter.OrderTypes {
		orderType, err := materialorder.ParseOrderType(t)
		if err != nil {
			return nil, err
		}
		query.OrderTypes = append(query.OrderTypes, orderType)
	}
	for _, st := range filter.Statuses {
		status, err := materialorder.ParseStatus(st)
		if err != nil {
			return nil, err
		}
		query.Statuses = append(query.Statuses, status)
	}

	serviceOrderID, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	query.ServiceOrderIds = []string{serviceOrderID}

	orders, err = storecall.Read(ctx, s.policy, "material_orders.query",
		func(ctx context.Context) ([]materialorder.MaterialOrder, error) {
			return s.orders.Query(ctx, query)
		})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []materialorder.MaterialOrder{}
	}

	return orders, nil
}

// RecomputeTotal rewrites an order's total from its items when they disagree,
// repairing totals left stale by the preserve policy. Only pending orders are
// repaired; a sent or completed order keeps the total it was invoiced with.
func (s *MaterialService) RecomputeTotal(ctx context.Context, orderID string) (order materialorder.MaterialOrder, err error) {
	ctx, finish := s.start(ctx, "recompute_total", attribute.String("order_id", orderID))
	defer func() { finish(err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return materialorder.MaterialOrder{}, errs.Validation("order id is required")
	}

	apply := func(current *materialorder.MaterialOrder) (plan, error) {
		if err := current.RequirePending(); err != nil {
			return plan{}, err
		}
		if current.TotalConsistent() {
			return plan{kind: writeNone, order: *current}, nil
		}
		next := current.Clone()
		next.RecomputeTotal()
		next.UpdatedAt = s.now().UTC()

		return plan{kind: writeUpdate, order: next}, nil
	}

	describe := func(order materialorder.MaterialOrder, p plan) *event.Event {
		if p.kind != writeUpdate {
			return nil
		}

		return s.newEvent(event.MaterialOrderRecomputed, order.ID, map[string]any{
			"total":   order.Total,
			"version": order.Version,
		})
	}

	order, _, err = s.mutate(ctx, "recompute_total", s.getOrder(orderID), apply, describe)
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}

	return order, nil
}
