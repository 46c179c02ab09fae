package materialorder

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
)

// OrderType is the kind of material an order requests.
type OrderType string

const (
	OrderTypeRental      OrderType = "Rental"
	OrderTypeIce         OrderType = "Ice"
	OrderTypeCleaning    OrderType = "Cleaning"
	OrderTypeConsumables OrderType = "Consumables"
	OrderTypeDecoration  OrderType = "Decoration"
	OrderTypeTransport   OrderType = "Transport"
)

var orderTypes = []OrderType{
	OrderTypeRental,
	OrderTypeIce,
	OrderTypeCleaning,
	OrderTypeConsumables,
	OrderTypeDecoration,
	OrderTypeTransport,
}

func (t OrderType) String() string {
	return string(t)
}

// ParseOrderType matches s case-insensitively against the known order types.
func ParseOrderType(s string) (OrderType, error) {
	for _, t := range orderTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, nil
		}
	}

	return "", errs.Validation("unknown order type %q", s)
}

// Status is the lifecycle state of a material order.
type Status string

const (
	// StatusPending orders are the only merge targets.
	StatusPending   Status = "Pending"
	StatusSent      Status = "Sent"
	StatusCompleted Status = "Completed"
)

func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a persisted status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusSent, StatusCompleted:
		return Status(s), nil
	default:
		return "", errs.Validation("unknown order status %q", s)
	}
}

// DeliveryMeta is the order level delivery information.
// It is replaced as a whole on every merge.
type DeliveryMeta struct {
	DeliveryDate  *time.Time `json:"deliveryDate,omitempty"`
	DeliverySpace string     `json:"deliverySpace,omitempty"`
	Department    string     `json:"department,omitempty"`
}

// MaterialOrder represents a rental or material request attached to a service order.
type MaterialOrder struct {
	ID             string                `json:"id"`
	ServiceOrderID string                `json:"serviceOrderId"`
	OrderType      OrderType             `json:"orderType"`
	Status         Status                `json:"status"`
	Items          []orderitem.OrderItem `json:"items"`
	Total          decimal.Decimal       `json:"total"`
	Delivery       DeliveryMeta          `json:"delivery"`
	Days           int                   `json:"days"`
	ContractNumber string                `json:"contractNumber,omitempty"`
	Version        int64                 `json:"version"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy of the order.
func (o MaterialOrder) Clone() MaterialOrder {
	c := o
	c.Items = orderitem.CloneAll(o.Items)
	if o.Delivery.DeliveryDate != nil {
		d := *o.Delivery.DeliveryDate
		c.Delivery.DeliveryDate = &d
	}

	return c
}

// RecomputeTotal sets Total to the sum of the items' line totals.
func (o *MaterialOrder) RecomputeTotal() {
	o.Total = orderitem.Sum(o.Items)
}

// TotalConsistent reports whether Total matches the current items.
func (o *MaterialOrder) TotalConsistent() bool {
	return o.Total.Equal(orderitem.Sum(o.Items))
}

// RequirePending rejects changes to orders that have left the Pending state.
// Sent and Completed orders are frozen.
func (o *MaterialOrder) RequirePending() error {
	if o.Status != StatusPending {
		return errs.Conflict("material order %s is %s", o.ID, o.Status)
	}

	return nil
}

// TotalPolicy decides whether a single field update rewrites the aggregate total.
type TotalPolicy string

const (
	// TotalPolicyRecompute refreshes and persists Total with every field update.
	TotalPolicyRecompute TotalPolicy = "recompute"
	// TotalPolicyPreserve keeps the stored Total untouched on field updates, matching
	// callers that recompute the aggregate themselves before display.
	TotalPolicyPreserve TotalPolicy = "preserve"
)

// ParseTotalPolicy parses a configured total policy. Empty selects TotalPolicyRecompute.
func ParseTotalPolicy(s string) (TotalPolicy, error) {
	switch TotalPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TotalPolicyRecompute:
		return TotalPolicyRecompute, nil
	case TotalPolicyPreserve:
		return TotalPolicyPreserve, nil
	default:
		return "", errs.Validation("unknown total policy %q", s)
	}
}
