package materialsvc

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

// UpsertRequest adds a batch of items to the pending order of a service order and type.
// ServiceOrderID may be the canonical id or a legacy order number.
type UpsertRequest struct {
	ServiceOrderID string
	OrderType      string
	Items          []orderitem.OrderItem
	Delivery       materialorder.DeliveryMeta
	Days           int
	ContractNumber string
}

// UpsertResult summarises the pending order after the upsert.
type UpsertResult struct {
	OrderID   string          `json:"orderId"`
	ItemCount int             `json:"itemCount"`
	Total     decimal.Decimal `json:"total"`
	Created   bool            `json:"created"`
}

// Upsert creates the pending order for the target or merges the batch into it.
// Items with a known code accumulate quantity and take every other field from the
// batch. Delivery metadata is replaced as a whole. The batch is validated before
// any store call and rejected as a whole, and the service order must exist.
func (s *MaterialService) Upsert(ctx context.Context, req UpsertRequest) (res UpsertResult, err error) {
	ctx, finish := s.start(ctx, "upsert",
		attribute.String("service_order", req.ServiceOrderID),
		attribute.String("order_type", req.OrderType),
		attribute.Int("items", len(req.Items)),
	)
	defer func() { finish(err) }()

	orderType, err := materialorder.ParseOrderType(req.OrderType)
	if err != nil {
		return UpsertResult{}, err
	}
	if req.Days < 0 {
		return UpsertResult{}, errs.Validation("days must not be negative")
	}
	batch, err := materialorder.NormalizeBatch(req.Items)
	if err != nil {
		return UpsertResult{}, err
	}

	serviceOrderID, err := s.resolver.ResolveExisting(ctx, req.ServiceOrderID)
	if err != nil {
		return UpsertResult{}, err
	}

	load := func(ctx context.Context) (*materialorder.MaterialOrder, error) {
		pending, err := storecall.Read(ctx, s.policy, "material_orders.find_pending",
			func(ctx context.Context) ([]materialorder.MaterialOrder, error) {
				return s.orders.FindPending(ctx, serviceOrderID, orderType)
			})
		if err != nil {
			return nil, err
		}
		switch len(pending) {
		case 0:
			return nil, nil
		case 1:
			return &pending[0], nil
		default:
			ids := make([]string, len(pending))
			for i := range pending {
				ids[i] = pending[i].ID
			}

			return nil, errs.Conflict("%d pending %s orders for service order %s: %v",
				len(pending), orderType, serviceOrderID, ids)
		}
	}

	apply := func(current *materialorder.MaterialOrder) (plan, error) {
		now := s.now().UTC()
		if current == nil {
			order := materialorder.MaterialOrder{
				ID:             s.newID(),
				ServiceOrderID: serviceOrderID,
				OrderType:      orderType,
				Status:         materialorder.StatusPending,
				Items:          orderitem.CloneAll(batch),
				Delivery:       req.Delivery,
				Days:           req.Days,
				ContractNumber: req.ContractNumber,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			order.RecomputeTotal()

			return plan{kind: writeInsert, order: order}, nil
		}

		next := current.Clone()
		next.Items = materialorder.Merge(current.Items, batch)
		next.Delivery = req.Delivery
		next.RecomputeTotal()
		next.UpdatedAt = now

		return plan{kind: writeUpdate, order: next}, nil
	}

	describe := func(order materialorder.MaterialOrder, p plan) *event.Event {
		evtType := event.MaterialOrderMerged
		if p.kind == writeInsert {
			evtType = event.MaterialOrderCreated
		}

		return s.newEvent(evtType, order.ID, map[string]any{
			"serviceOrderId": order.ServiceOrderID,
			"orderType":      order.OrderType,
			"itemCodes":      orderitem.Codes(batch),
			"itemCount":      len(order.Items),
			"total":          order.Total,
			"version":        order.Version,
		})
	}

	order, p, err := s.mutate(ctx, "upsert", load, apply, describe)
	if err != nil {
		return UpsertResult{}, err
	}

	return UpsertResult{
		OrderID:   order.ID,
		ItemCount: len(order.Items),
		Total:     order.Total,
		Created:   p.kind == writeInsert,
	}, nil
}
