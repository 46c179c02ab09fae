package orderitem

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the scale of line and order totals.
const MoneyPlaces = 2

// OrderItem represents a single line of a material order.
type OrderItem struct {
	ItemCode         string          `json:"itemCode"`
	Description      string          `json:"description"`
	UnitOfSale       string          `json:"unitOfSale"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	LineTotal        decimal.Decimal `json:"lineTotal"`
	DeliveryDate     *time.Time      `json:"deliveryDate,omitempty"`
	DeliveryLocation string          `json:"deliveryLocation,omitempty"`
	RequestedBy      string          `json:"requestedBy,omitempty"`
	Adjustments      []Adjustment    `json:"adjustments,omitempty"`
}

// Adjustment is a later correction recorded against an item.
// Adjustments are informational and never folded into Quantity.
type Adjustment struct {
	Type     string          `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Date     time.Time       `json:"date"`
	Comment  string          `json:"comment,omitempty"`
}

// ComputeLineTotal returns price × quantity rounded half away from zero to cents.
func ComputeLineTotal(price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Round(MoneyPlaces)
}

// Recalculate refreshes the derived line total.
func (i *OrderItem) Recalculate() {
	i.LineTotal = ComputeLineTotal(i.Price, i.Quantity)
}

// Clone returns a deep copy of the item.
func (i OrderItem) Clone() OrderItem {
	c := i
	if i.DeliveryDate != nil {
		d := *i.DeliveryDate
		c.DeliveryDate = &d
	}
	if i.Adjustments != nil {
		c.Adjustments = append([]Adjustment(nil), i.Adjustments...)
	}

	return c
}

// CloneAll deep-copies a slice of items.
func CloneAll(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}

	return out
}

// Codes lists the item codes in collection order.
func Codes(items []OrderItem) []string {
	codes := make([]string, len(items))
	for i := range items {
		codes[i] = items[i].ItemCode
	}

	return codes
}

// IndexOf returns the position of the item with the given code or -1.
func IndexOf(items []OrderItem, code string) int {
	for i := range items {
		if items[i].ItemCode == code {
			return i
		}
	}

	return -1
}

// Sum returns the aggregate total of the items' line totals.
func Sum(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for i := range items {
		total = total.Add(items[i].LineTotal)
	}

	return total
}
