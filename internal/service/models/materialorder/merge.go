package materialorder

import (
	"strings"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
)

// NormalizeBatch validates an incoming batch and folds repeated item codes into one
// entry so that a batch can never introduce duplicates. Repeated codes accumulate
// quantity and take every other field from the later entry, the same rule Merge
// applies against stored items. The batch is rejected as a whole on the first
// invalid item.
func NormalizeBatch(items []orderitem.OrderItem) ([]orderitem.OrderItem, error) {
	if len(items) == 0 {
		return nil, errs.Validation("at least one item is required")
	}

	out := make([]orderitem.OrderItem, 0, len(items))
	for i := range items {
		item := items[i].Clone()
		item.ItemCode = strings.TrimSpace(item.ItemCode)
		if item.ItemCode == "" {
			return nil, errs.Validation("item %d: itemCode is required", i)
		}
		if item.Quantity.IsNegative() {
			return nil, errs.Validation("item %s: quantity must not be negative", item.ItemCode)
		}
		if item.Price.IsNegative() {
			return nil, errs.Validation("item %s: price must not be negative", item.ItemCode)
		}

		if idx := orderitem.IndexOf(out, item.ItemCode); idx >= 0 {
			out[idx] = mergeItem(out[idx], item)
			continue
		}
		item.Recalculate()
		out = append(out, item)
	}

	return out, nil
}

// Merge folds incoming items into existing ones and returns the new collection.
// A matching code takes every field from the incoming item except Quantity, which
// becomes the sum of both quantities. Unknown codes are appended in batch order.
// Neither input is modified.
func Merge(existing, incoming []orderitem.OrderItem) []orderitem.OrderItem {
	merged := orderitem.CloneAll(existing)
	for i := range incoming {
		item := incoming[i].Clone()
		if idx := orderitem.IndexOf(merged, item.ItemCode); idx >= 0 {
			merged[idx] = mergeItem(merged[idx], item)
			continue
		}
		item.Recalculate()
		merged = append(merged, item)
	}

	return merged
}

func mergeItem(current, incoming orderitem.OrderItem) orderitem.OrderItem {
	next := incoming.Clone()
	next.Quantity = current.Quantity.Add(incoming.Quantity)
	// Adjustments are an append-only history and survive the overwrite.
	if len(current.Adjustments) > 0 || len(incoming.Adjustments) > 0 {
		next.Adjustments = append(append([]orderitem.Adjustment(nil), current.Adjustments...), incoming.Adjustments...)
	}
	next.Recalculate()

	return next
}
