package postgresrepo

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
)

const table = "service_orders"

// PostgresServiceOrderRepository reads and deletes service orders.
type PostgresServiceOrderRepository struct {
	conn postgres.Conn
	sb   sq.StatementBuilderType
}

// NewPostgresServiceOrderRepository creates a new service order repository.
func NewPostgresServiceOrderRepository(conn postgres.Conn) *PostgresServiceOrderRepository {
	return &PostgresServiceOrderRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Get returns the service order by canonical id.
func (r *PostgresServiceOrderRepository) Get(
	ctx context.Context,
	id string,
) (serviceorder.ServiceOrder, error) {
	sql, args, err := r.sb.Select("id::text", "order_number", "created_at").
		From(table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return serviceorder.ServiceOrder{}, fmt.Errorf("failed to build query: %w", err)
	}

	var so serviceorder.ServiceOrder
	err = r.conn.QueryRow(ctx, sql, args...).Scan(&so.ID, &so.OrderNumber, &so.CreatedAt)
	if err != nil {
		return serviceorder.ServiceOrder{}, postgres.WrapError("service order "+id, err)
	}

	return so, nil
}

// FindIDByOrderNumber returns the canonical id of a legacy order number.
func (r *PostgresServiceOrderRepository) FindIDByOrderNumber(
	ctx context.Context,
	orderNumber string,
) (string, error) {
	sql, args, err := r.sb.Select("id::text").
		From(table).
		Where(sq.Eq{"order_number": orderNumber}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build query: %w", err)
	}

	var id string
	if err := r.conn.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return "", postgres.WrapError("service order number "+orderNumber, err)
	}

	return id, nil
}

// Delete removes the service order row.
func (r *PostgresServiceOrderRepository) Delete(ctx context.Context, id string) (int64, error) {
	sql, args, err := r.sb.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, postgres.WrapError("service_orders.delete", err)
	}

	return tag.RowsAffected(), nil
}
