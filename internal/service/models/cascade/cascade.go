package cascade

import (
	"fmt"
	"regexp"
	"time"
)

// DependentTable is a table whose rows reference a service order through Column.
// Tables use either a service-order style or an event style foreign key, so the
// column is configured per table.
type DependentTable struct {
	Table  string `json:"table"  mapstructure:"table"`
	Column string `json:"column" mapstructure:"column"`
}

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate checks that the table and column are plain SQL identifiers.
func (d DependentTable) Validate() error {
	if !identifierRe.MatchString(d.Table) {
		return fmt.Errorf("invalid dependent table name %q", d.Table)
	}
	if !identifierRe.MatchString(d.Column) {
		return fmt.Errorf("invalid foreign key column %q for table %s", d.Column, d.Table)
	}

	return nil
}

// Column names used by the default dependent tables.
const (
	ColumnServiceOrderID = "service_order_id"
	ColumnEventID        = "event_id"
)

// DefaultTables is the deletion order used when none is configured.
// Material orders go first so no merge can target an order of a vanishing event.
func DefaultTables() []DependentTable {
	return []DependentTable{
		{Table: "material_orders", Column: ColumnServiceOrderID},
		{Table: "briefings", Column: ColumnServiceOrderID},
		{Table: "transport_orders", Column: ColumnServiceOrderID},
		{Table: "picking_sheets", Column: ColumnEventID},
		{Table: "return_sheets", Column: ColumnEventID},
		{Table: "cost_records", Column: ColumnServiceOrderID},
		{Table: "staff_assignments", Column: ColumnEventID},
		{Table: "space_reservations", Column: ColumnEventID},
	}
}

// Mode selects how a cascade is made all-or-nothing.
type Mode string

const (
	// ModeAuto uses a transaction when the store supports one and checkpoints otherwise.
	ModeAuto Mode = "auto"
	// ModeTransactional runs every delete in one store transaction.
	ModeTransactional Mode = "transactional"
	// ModeCheckpointed records each finished step so an interrupted cascade can roll forward.
	ModeCheckpointed Mode = "checkpointed"
)

// ParseMode parses a configured cascade mode. Empty selects ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeTransactional, ModeCheckpointed:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown cascade mode %q", s)
	}
}

// Checkpoint is a persisted record of one finished cascade step.
type Checkpoint struct {
	ServiceOrderID string    `json:"serviceOrderId"`
	Table          string    `json:"table"`
	Rows           int64     `json:"rows"`
	CompletedAt    time.Time `json:"completedAt"`
}

// FailedID describes one id of a bulk deletion that did not complete.
type FailedID struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Error        string   `json:"error"`
	StateChanged bool     `json:"stateChanged"`
	Removed      []string `json:"removed,omitempty"`
	FailedTable  string   `json:"failedTable,omitempty"`
}

// BulkResult reports the outcome of a bulk deletion per id.
type BulkResult struct {
	Succeeded []string   `json:"succeeded"`
	Failed    []FailedID `json:"failed"`
}
