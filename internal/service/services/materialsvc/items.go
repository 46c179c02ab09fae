package materialsvc

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
)

// UpdateItemField assigns value to one field of one item and returns the updated item.
// Quantity and price refresh the item's line total. Whether the order total follows
// is decided by the service's TotalPolicy. Only pending orders can be edited.
func (s *MaterialService) UpdateItemField(
	ctx context.Context,
	orderID, itemCode, fieldName string,
	value any,
) (item orderitem.OrderItem, err error) {
	ctx, finish := s.start(ctx, "update_item_field",
		attribute.String("order_id", orderID),
		attribute.String("item_code", itemCode),
		attribute.String("field", fieldName),
	)
	defer func() { finish(err) }()

	orderID, itemCode, err = requireKeys(orderID, itemCode)
	if err != nil {
		return orderitem.OrderItem{}, err
	}
	field, err := orderitem.ParseField(fieldName)
	if err != nil {
		return orderitem.OrderItem{}, err
	}
	// Reject a value of the wrong type before reading anything.
	if _, err := orderitem.Apply(orderitem.OrderItem{}, field, value); err != nil {
		return orderitem.OrderItem{}, err
	}

	apply := func(current *materialorder.MaterialOrder) (plan, error) {
		if err := current.RequirePending(); err != nil {
			return plan{}, err
		}
		idx := orderitem.IndexOf(current.Items, itemCode)
		if idx < 0 {
			return plan{}, &errs.ItemNotFoundError{
				OrderID:   current.ID,
				ItemCode:  itemCode,
				Available: orderitem.Codes(current.Items),
			}
		}

		updated, err := orderitem.Apply(current.Items[idx], field, value)
		if err != nil {
			return plan{}, err
		}

		next := current.Clone()
		next.Items[idx] = updated
		if s.totalPolicy == materialorder.TotalPolicyRecompute {
			next.RecomputeTotal()
		}
		next.UpdatedAt = s.now().UTC()

		return plan{kind: writeUpdate, order: next}, nil
	}

	describe := func(order materialorder.MaterialOrder, _ plan) *event.Event {
		return s.newEvent(event.MaterialOrderItemUpdated, order.ID, map[string]any{
			"itemCode":  itemCode,
			"field":     field,
			"lineTotal": order.Items[orderitem.IndexOf(order.Items, itemCode)].LineTotal,
			"total":     order.Total,
			"version":   order.Version,
		})
	}

	order, _, err := s.mutate(ctx, "update_item_field", s.getOrder(orderID), apply, describe)
	if err != nil {
		return orderitem.OrderItem{}, err
	}

	return order.Items[orderitem.IndexOf(order.Items, itemCode)], nil
}

// DeleteItem removes an item from a pending order. An absent order or item is a
// successful no-op. Removing the last item deletes the order. Items of sent or
// completed orders cannot be removed.
func (s *MaterialService) DeleteItem(ctx context.Context, orderID, itemCode string) (err error) {
	ctx, finish := s.start(ctx, "delete_item",
		attribute.String("order_id", orderID),
		attribute.String("item_code", itemCode),
	)
	defer func() { finish(err) }()

	orderID, itemCode, err = requireKeys(orderID, itemCode)
	if err != nil {
		return err
	}

	get := s.getOrder(orderID)
	load := func(ctx context.Context) (*materialorder.MaterialOrder, error) {
		current, err := get(ctx)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}

		return current, err
	}

	apply := func(current *materialorder.MaterialOrder) (plan, error) {
		if current == nil {
			return plan{kind: writeNone}, nil
		}
		if err := current.RequirePending(); err != nil {
			return plan{}, err
		}
		idx := orderitem.IndexOf(current.Items, itemCode)
		if idx < 0 {
			return plan{kind: writeNone, order: *current}, nil
		}

		next := current.Clone()
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
		if len(next.Items) == 0 {
			return plan{kind: writeDelete, order: next}, nil
		}
		next.RecomputeTotal()
		next.UpdatedAt = s.now().UTC()

		return plan{kind: writeUpdate, order: next}, nil
	}

	describe := func(order materialorder.MaterialOrder, p plan) *event.Event {
		switch p.kind {
		case writeUpdate:
			return s.newEvent(event.MaterialOrderItemDeleted, order.ID, map[string]any{
				"itemCode": itemCode,
				"total":    order.Total,
				"version":  order.Version,
			})
		case writeDelete:
			return s.newEvent(event.MaterialOrderDeleted, order.ID, map[string]any{
				"serviceOrderId": order.ServiceOrderID,
				"orderType":      order.OrderType,
				"lastItemCode":   itemCode,
			})
		default:
			return nil
		}
	}

	_, _, err = s.mutate(ctx, "delete_item", load, apply, describe)

	return err
}

// AppendAdjustment records a correction against an item. Adjustments are an
// append-only log and never change quantity, line total or order total, so they are
// accepted on orders in any status.
func (s *MaterialService) AppendAdjustment(
	ctx context.Context,
	orderID, itemCode string,
	adj orderitem.Adjustment,
) (item orderitem.OrderItem, err error) {
	ctx, finish := s.start(ctx, "append_adjustment",
		attribute.String("order_id", orderID),
		attribute.String("item_code", itemCode),
	)
	defer func() { finish(err) }()

	orderID, itemCode, err = requireKeys(orderID, itemCode)
	if err != nil {
		return orderitem.OrderItem{}, err
	}
	adj.Type = strings.TrimSpace(adj.Type)
	if adj.Type == "" {
		return orderitem.OrderItem{}, errs.Validation("adjustment type is required")
	}
	if adj.Date.IsZero() {
		adj.Date = s.now().UTC()
	}

	apply := func(current *materialorder.MaterialOrder) (plan, error) {
		idx := orderitem.IndexOf(current.Items, itemCode)
		if idx < 0 {
			return plan{}, &errs.ItemNotFoundError{
				OrderID:   current.ID,
				ItemCode:  itemCode,
				Available: orderitem.Codes(current.Items),
			}
		}

		next := current.Clone()
		next.Items[idx].Adjustments = append(next.Items[idx].Adjustments, adj)
		next.UpdatedAt = s.now().UTC()

		return plan{kind: writeUpdate, order: next}, nil
	}

	describe := func(order materialorder.MaterialOrder, _ plan) *event.Event {
		return s.newEvent(event.MaterialOrderAdjusted, order.ID, map[string]any{
			"itemCode":   itemCode,
			"adjustment": adj,
			"version":    order.Version,
		})
	}

	order, _, err := s.mutate(ctx, "append_adjustment", s.getOrder(orderID), apply, describe)
	if err != nil {
		return orderitem.OrderItem{}, err
	}

	return order.Items[orderitem.IndexOf(order.Items, itemCode)], nil
}

func requireKeys(orderID, itemCode string) (string, string, error) {
	orderID = strings.TrimSpace(orderID)
	itemCode = strings.TrimSpace(itemCode)
	if orderID == "" {
		return "", "", errs.Validation("order id is required")
	}
	if itemCode == "" {
		return "", "", errs.Validation("item code is required")
	}

	return orderID, itemCode, nil
}
