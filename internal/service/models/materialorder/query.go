package materialorder

// QueryMaterialOrdersModel represents filter parameters for querying material orders.
type QueryMaterialOrdersModel struct {
	Ids             []string    `json:"ids,omitempty"`
	ServiceOrderIds []string    `json:"serviceOrderIds,omitempty"`
	OrderTypes      []OrderType `json:"orderTypes,omitempty"`
	Statuses        []Status    `json:"statuses,omitempty"`
	Limit           int         `json:"limit,omitempty"`
	Offset          int         `json:"offset,omitempty"`
}
