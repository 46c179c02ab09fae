package postgresrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
)

const table = "material_orders"

var columns = []string{
	"id::text",
	"service_order_id::text",
	"order_type",
	"status",
	"items",
	"total::text",
	"delivery",
	"days",
	"contract_number",
	"version",
	"created_at",
	"updated_at",
}

// MaterialOrderDal represents the material order data access layer model.
// Items and delivery metadata are stored as JSONB blobs, amounts inside them as
// decimal strings. Total is NUMERIC and travels as text.
type MaterialOrderDal struct {
	Id             string          `db:"id"`
	ServiceOrderId string          `db:"service_order_id"`
	OrderType      string          `db:"order_type"`
	Status         string          `db:"status"`
	Items          []byte          `db:"items"`
	Total          decimal.Decimal `db:"total"`
	Delivery       []byte          `db:"delivery"`
	Days           int             `db:"days"`
	ContractNumber string          `db:"contract_number"`
	Version        int64           `db:"version"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// ToModel converts MaterialOrderDal to the service layer model.
func (d *MaterialOrderDal) ToModel() (materialorder.MaterialOrder, error) {
	orderType, err := materialorder.ParseOrderType(d.OrderType)
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}
	status, err := materialorder.ParseStatus(d.Status)
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}

	var items []orderitem.OrderItem
	if len(d.Items) > 0 {
		if err := json.Unmarshal(d.Items, &items); err != nil {
			return materialorder.MaterialOrder{}, fmt.Errorf("failed to decode items of order %s: %w", d.Id, err)
		}
	}

	var delivery materialorder.DeliveryMeta
	if len(d.Delivery) > 0 {
		if err := json.Unmarshal(d.Delivery, &delivery); err != nil {
			return materialorder.MaterialOrder{}, fmt.Errorf("failed to decode delivery of order %s: %w", d.Id, err)
		}
	}

	return materialorder.MaterialOrder{
		ID:             d.Id,
		ServiceOrderID: d.ServiceOrderId,
		OrderType:      orderType,
		Status:         status,
		Items:          items,
		Total:          d.Total,
		Delivery:       delivery,
		Days:           d.Days,
		ContractNumber: d.ContractNumber,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

// MaterialOrderDalFromModel converts the service layer model to MaterialOrderDal.
func MaterialOrderDalFromModel(o *materialorder.MaterialOrder) (*MaterialOrderDal, error) {
	items := o.Items
	if items == nil {
		items = []orderitem.OrderItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}
	deliveryJSON, err := json.Marshal(o.Delivery)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery: %w", err)
	}

	return &MaterialOrderDal{
		Id:             o.ID,
		ServiceOrderId: o.ServiceOrderID,
		OrderType:      o.OrderType.String(),
		Status:         o.Status.String(),
		Items:          itemsJSON,
		Total:          o.Total,
		Delivery:       deliveryJSON,
		Days:           o.Days,
		ContractNumber: o.ContractNumber,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}, nil
}

// PostgresMaterialOrderRepository stores material orders in Postgres.
type PostgresMaterialOrderRepository struct {
	conn postgres.Conn
	sb   sq.StatementBuilderType
}

// NewPostgresMaterialOrderRepository creates a new material order repository.
func NewPostgresMaterialOrderRepository(conn postgres.Conn) *PostgresMaterialOrderRepository {
	return &PostgresMaterialOrderRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Get returns the order by id.
func (r *PostgresMaterialOrderRepository) Get(
	ctx context.Context,
	id string,
) (materialorder.MaterialOrder, error) {
	orders, err := r.Query(ctx, &materialorder.QueryMaterialOrdersModel{Ids: []string{id}, Limit: 1})
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}
	if len(orders) == 0 {
		return materialorder.MaterialOrder{}, errs.NotFound("material order %s", id)
	}

	return orders[0], nil
}

// FindPending returns the pending orders of a merge target.
func (r *PostgresMaterialOrderRepository) FindPending(
	ctx context.Context,
	serviceOrderID string,
	orderType materialorder.OrderType,
) ([]materialorder.MaterialOrder, error) {
	return r.Query(ctx, &materialorder.QueryMaterialOrdersModel{
		ServiceOrderIds: []string{serviceOrderID},
		OrderTypes:      []materialorder.OrderType{orderType},
		Statuses:        []materialorder.Status{materialorder.StatusPending},
	})
}

// Query retrieves material orders based on filter criteria.
func (r *PostgresMaterialOrderRepository) Query(
	ctx context.Context,
	filter *materialorder.QueryMaterialOrdersModel,
) ([]materialorder.MaterialOrder, error) {
	query := r.sb.Select(columns...).From(table).OrderBy("created_at", "id")

	if len(filter.Ids) > 0 {
		query = query.Where(sq.Eq{"id": filter.Ids})
	}

	if len(filter.ServiceOrderIds) > 0 {
		query = query.Where(sq.Eq{"service_order_id": filter.ServiceOrderIds})
	}

	if len(filter.OrderTypes) > 0 {
		types := make([]string, len(filter.OrderTypes))
		for i, t := range filter.OrderTypes {
			types[i] = t.String()
		}
		query = query.Where(sq.Eq{"order_type": types})
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = s.String()
		}
		query = query.Where(sq.Eq{"status": statuses})
	}

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.WrapError("material_orders.query", err)
	}
	defer rows.Close()

	var result []materialorder.MaterialOrder
	for rows.Next() {
		model, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, model)
	}

	if err = rows.Err(); err != nil {
		return nil, postgres.WrapError("material_orders.query", err)
	}

	return result, nil
}

// Insert creates a new material order with version 1.
func (r *PostgresMaterialOrderRepository) Insert(
	ctx context.Context,
	order materialorder.MaterialOrder,
) (materialorder.MaterialOrder, error) {
	order.Version = 1
	dal, err := MaterialOrderDalFromModel(&order)
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}

	sql, args, err := r.sb.Insert(table).
		Columns(
			"id",
			"service_order_id",
			"order_type",
			"status",
			"items",
			"total",
			"delivery",
			"days",
			"contract_number",
			"version",
			"created_at",
			"updated_at",
		).
		Values(
			dal.Id,
			dal.ServiceOrderId,
			dal.OrderType,
			dal.Status,
			dal.Items,
			dal.Total,
			dal.Delivery,
			dal.Days,
			dal.ContractNumber,
			dal.Version,
			dal.CreatedAt,
			dal.UpdatedAt,
		).
		Suffix("RETURNING " + joinColumns()).
		ToSql()
	if err != nil {
		return materialorder.MaterialOrder{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	inserted, err := scanOrder(r.conn.QueryRow(ctx, sql, args...))
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}

	return inserted, nil
}

// UpdateVersioned rewrites items, total and delivery metadata if the stored version
// still equals expectedVersion.
func (r *PostgresMaterialOrderRepository) UpdateVersioned(
	ctx context.Context,
	order materialorder.MaterialOrder,
	expectedVersion int64,
) (materialorder.MaterialOrder, error) {
	dal, err := MaterialOrderDalFromModel(&order)
	if err != nil {
		return materialorder.MaterialOrder{}, err
	}

	sql, args, err := r.sb.Update(table).
		Set("items", dal.Items).
		Set("total", dal.Total).
		Set("delivery", dal.Delivery).
		Set("days", dal.Days).
		Set("contract_number", dal.ContractNumber).
		Set("status", dal.Status).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", dal.UpdatedAt).
		Where(sq.Eq{"id": dal.Id, "version": expectedVersion}).
		Suffix("RETURNING " + joinColumns()).
		ToSql()
	if err != nil {
		return materialorder.MaterialOrder{}, fmt.Errorf("failed to build update query: %w", err)
	}

	updated, err := scanOrder(r.conn.QueryRow(ctx, sql, args...))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return materialorder.MaterialOrder{}, err
	}

	return materialorder.MaterialOrder{}, r.missOrStale(ctx, order.ID)
}

// DeleteVersioned deletes the order if the stored version still equals expectedVersion.
func (r *PostgresMaterialOrderRepository) DeleteVersioned(
	ctx context.Context,
	id string,
	expectedVersion int64,
) error {
	sql, args, err := r.sb.Delete(table).
		Where(sq.Eq{"id": id, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, sql, args...)
	if err != nil {
		return postgres.WrapError("material_orders.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, id)
	}

	return nil
}

// missOrStale explains a conditioned write that matched no row.
func (r *PostgresMaterialOrderRepository) missOrStale(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}

	return fmt.Errorf("%w: material order %s", errs.ErrStaleVersion, id)
}

func joinColumns() string {
	return strings.Join(columns, ", ")
}

func scanOrder(row pgx.Row) (materialorder.MaterialOrder, error) {
	var dal MaterialOrderDal
	err := row.Scan(
		&dal.Id,
		&dal.ServiceOrderId,
		&dal.OrderType,
		&dal.Status,
		&dal.Items,
		&dal.Total,
		&dal.Delivery,
		&dal.Days,
		&dal.ContractNumber,
		&dal.Version,
		&dal.CreatedAt,
		&dal.UpdatedAt,
	)
	if err != nil {
		return materialorder.MaterialOrder{}, postgres.WrapError("material_orders.scan", err)
	}

	return dal.ToModel()
}
