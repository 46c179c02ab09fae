package event

import (
	"time"
)

// Type names a domain event published after a successful mutation.
type Type string

const (
	MaterialOrderCreated     Type = "material_order.created"
	MaterialOrderMerged      Type = "material_order.merged"
	MaterialOrderItemUpdated Type = "material_order.item_updated"
	MaterialOrderItemDeleted Type = "material_order.item_deleted"
	MaterialOrderAdjusted    Type = "material_order.adjusted"
	MaterialOrderRecomputed  Type = "material_order.total_recomputed"
	MaterialOrderDeleted     Type = "material_order.deleted"
	ServiceOrderDeleted      Type = "service_order.deleted"
	ServiceOrderPartial      Type = "service_order.cascade_partial"
)

// Event is the envelope published to the message broker.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	AggregateID string    `json:"aggregateId"`
	OccurredAt  time.Time `json:"occurredAt"`
	Data        any       `json:"data,omitempty"`
}
