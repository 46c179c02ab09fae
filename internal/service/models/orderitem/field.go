package orderitem

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
)

// Field names an item attribute that can be changed through a field update.
type Field string

const (
	FieldQuantity         Field = "quantity"
	FieldPrice            Field = "price"
	FieldDescription      Field = "description"
	FieldUnitOfSale       Field = "unitOfSale"
	FieldDeliveryDate     Field = "deliveryDate"
	FieldDeliveryLocation Field = "deliveryLocation"
	FieldRequestedBy      Field = "requestedBy"
)

// ParseField validates a caller supplied field name.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.TrimSpace(s)); f {
	case FieldQuantity, FieldPrice, FieldDescription, FieldUnitOfSale,
		FieldDeliveryDate, FieldDeliveryLocation, FieldRequestedBy:
		return f, nil
	default:
		return "", errs.Validation("unknown item field %q", s)
	}
}

// AffectsLineTotal reports whether changing the field requires a new line total.
func (f Field) AffectsLineTotal() bool {
	return f == FieldQuantity || f == FieldPrice
}

// Apply returns a copy of item with value assigned to field.
// The line total is refreshed when the field is a factor of it.
func Apply(item OrderItem, field Field, value any) (OrderItem, error) {
	updated := item.Clone()

	switch field {
	case FieldQuantity, FieldPrice:
		n, err := ToDecimal(value)
		if err != nil {
			return OrderItem{}, errs.Validation("field %s: %v", field, err)
		}
		if n.IsNegative() {
			return OrderItem{}, errs.Validation("field %s must not be negative", field)
		}
		if field == FieldQuantity {
			updated.Quantity = n
		} else {
			updated.Price = n
		}
	case FieldDescription, FieldUnitOfSale, FieldDeliveryLocation, FieldRequestedBy:
		s, ok := value.(string)
		if !ok {
			return OrderItem{}, errs.Validation("field %s expects a string, got %T", field, value)
		}
		switch field {
		case FieldDescription:
			updated.Description = s
		case FieldUnitOfSale:
			updated.UnitOfSale = s
		case FieldDeliveryLocation:
			updated.DeliveryLocation = s
		default:
			updated.RequestedBy = s
		}
	case FieldDeliveryDate:
		d, err := toDate(value)
		if err != nil {
			return OrderItem{}, errs.Validation("field %s: %v", field, err)
		}
		updated.DeliveryDate = d
	default:
		return OrderItem{}, errs.Validation("unknown item field %q", field)
	}

	if field.AffectsLineTotal() {
		updated.Recalculate()
	}

	return updated, nil
}

// ToDecimal converts a caller supplied number. JSON numbers and numeric strings
// are parsed exactly; binary floats go through their shortest decimal form.
func ToDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("expected a finite number, got %v", v)
		}

		return decimal.NewFromFloat(v), nil
	case float32:
		return ToDecimal(float64(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("expected a number, got %T", value)
	}
}

// DateLayouts are the accepted textual forms of a delivery date.
var DateLayouts = []string{time.RFC3339, "2006-01-02"}

func toDate(value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		for _, layout := range DateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return &t, nil
			}
		}

		return nil, fmt.Errorf("unparseable date %q", v)
	default:
		return nil, fmt.Errorf("expected a date string, got %T", value)
	}
}
