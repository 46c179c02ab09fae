package serviceorder

import "time"

// ServiceOrder is the catering event a material order belongs to.
// Only the identifiers matter to the reconciliation core.
type ServiceOrder struct {
	ID          string    `json:"id"`
	OrderNumber string    `json:"orderNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}
