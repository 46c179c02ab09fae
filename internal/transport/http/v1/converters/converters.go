package converters

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
)

// OrderItemRequest is an item of an upsert payload. Pointers tell a missing
// field apart from a zero value.
type OrderItemRequest struct {
	ItemCode         *string                `json:"itemCode"`
	Description      string                 `json:"description"`
	UnitOfSale       string                 `json:"unitOfSale"`
	Quantity         *decimal.Decimal       `json:"quantity"`
	Price            *decimal.Decimal       `json:"price"`
	DeliveryDate     *time.Time             `json:"deliveryDate"`
	DeliveryLocation string                 `json:"deliveryLocation"`
	RequestedBy      string                 `json:"requestedBy"`
	Adjustments      []orderitem.Adjustment `json:"adjustments"`
}

// DeliveryRequest is the order level delivery metadata of an upsert payload.
type DeliveryRequest struct {
	DeliveryDate  *time.Time `json:"deliveryDate"`
	DeliverySpace string     `json:"deliverySpace"`
	Department    string     `json:"department"`
}

// UpsertRequest is the body of the upsert endpoint.
type UpsertRequest struct {
	OrderType      string             `json:"orderType"`
	Items          []OrderItemRequest `json:"items"`
	Delivery       DeliveryRequest    `json:"delivery"`
	Days           int                `json:"days"`
	ContractNumber string             `json:"contractNumber"`
}

// OrderItemFromRequest converts a payload item. itemCode, quantity and price are required.
func OrderItemFromRequest(i int, req OrderItemRequest) (orderitem.OrderItem, error) {
	if req.ItemCode == nil || strings.TrimSpace(*req.ItemCode) == "" {
		return orderitem.OrderItem{}, errs.Validation("item %d: itemCode is required", i)
	}
	if req.Quantity == nil {
		return orderitem.OrderItem{}, errs.Validation("item %s: quantity is required", *req.ItemCode)
	}
	if req.Price == nil {
		return orderitem.OrderItem{}, errs.Validation("item %s: price is required", *req.ItemCode)
	}

	return orderitem.OrderItem{
		ItemCode:         *req.ItemCode,
		Description:      req.Description,
		UnitOfSale:       req.UnitOfSale,
		Quantity:         *req.Quantity,
		Price:            *req.Price,
		DeliveryDate:     req.DeliveryDate,
		DeliveryLocation: req.DeliveryLocation,
		RequestedBy:      req.RequestedBy,
		Adjustments:      req.Adjustments,
	}, nil
}

// OrderItemsFromRequest converts every payload item, failing on the first invalid one.
func OrderItemsFromRequest(items []OrderItemRequest) ([]orderitem.OrderItem, error) {
	out := make([]orderitem.OrderItem, 0, len(items))
	for i, req := range items {
		item, err := OrderItemFromRequest(i, req)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}

	return out, nil
}

// DeliveryFromRequest converts the delivery metadata.
func DeliveryFromRequest(req DeliveryRequest) materialorder.DeliveryMeta {
	return materialorder.DeliveryMeta{
		DeliveryDate:  req.DeliveryDate,
		DeliverySpace: req.DeliverySpace,
		Department:    req.Department,
	}
}

// MaterialOrderResponse is the wire form of a material order. TotalConsistent
// exposes whether the stored total still matches the items.
type MaterialOrderResponse struct {
	materialorder.MaterialOrder
	TotalConsistent bool `json:"totalConsistent"`
}

// MaterialOrderToResponse converts a material order for the wire.
func MaterialOrderToResponse(o materialorder.MaterialOrder) MaterialOrderResponse {
	if o.Items == nil {
		o.Items = []orderitem.OrderItem{}
	}

	return MaterialOrderResponse{MaterialOrder: o, TotalConsistent: o.TotalConsistent()}
}

// MaterialOrdersToResponse converts a list of material orders.
func MaterialOrdersToResponse(orders []materialorder.MaterialOrder) []MaterialOrderResponse {
	out := make([]MaterialOrderResponse, len(orders))
	for i := range orders {
		out[i] = MaterialOrderToResponse(orders[i])
	}

	return out
}

// PathParam returns the named route parameter decoded. chi matches on the escaped
// path whenever the request has one, so an encoded slash stays inside the value.
func PathParam(r *http.Request, name string) (string, error) {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value, nil
	}

	decoded, err := url.PathUnescape(value)
	if err != nil {
		return "", errs.Validation("malformed %s in path: %v", name, err)
	}

	return decoded, nil
}

// SplitList parses a comma separated query value, dropping empty parts.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
