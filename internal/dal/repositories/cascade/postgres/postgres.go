package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
)

// PostgresDependentRepository deletes dependent rows of a service order.
type PostgresDependentRepository struct {
	conn postgres.Conn
	sb   sq.StatementBuilderType
}

// NewPostgresDependentRepository creates a new dependent-table repository.
func NewPostgresDependentRepository(conn postgres.Conn) *PostgresDependentRepository {
	return &PostgresDependentRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// DeleteByColumn removes every row of dep.Table referencing id through dep.Column.
func (r *PostgresDependentRepository) DeleteByColumn(
	ctx context.Context,
	dep cascade.DependentTable,
	id string,
) (int64, error) {
	// Table and column end up in the statement text, not in a placeholder.
	if err := dep.Validate(); err != nil {
		return 0, err
	}

	sql, args, err := r.sb.Delete(dep.Table).Where(sq.Eq{dep.Column: id}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, postgres.WrapError(dep.Table+".delete", err)
	}

	return tag.RowsAffected(), nil
}

// PostgresCheckpointRepository stores finished cascade steps.
type PostgresCheckpointRepository struct {
	conn postgres.Conn
	sb   sq.StatementBuilderType
}

// NewPostgresCheckpointRepository creates a new checkpoint repository.
func NewPostgresCheckpointRepository(conn postgres.Conn) *PostgresCheckpointRepository {
	return &PostgresCheckpointRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Save records a finished step; saving it again refreshes the record.
func (r *PostgresCheckpointRepository) Save(ctx context.Context, cp cascade.Checkpoint) error {
	if cp.CompletedAt.IsZero() {
		cp.CompletedAt = time.Now()
	}

	sql, args, err := r.sb.Insert("cascade_checkpoints").
		Columns("service_order_id", "table_name", "rows_deleted", "completed_at").
		Values(cp.ServiceOrderID, cp.Table, cp.Rows, cp.CompletedAt).
		Suffix("ON CONFLICT (service_order_id, table_name) DO UPDATE SET rows_deleted = EXCLUDED.rows_deleted, completed_at = EXCLUDED.completed_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, sql, args...); err != nil {
		return postgres.WrapError("cascade_checkpoints.save", err)
	}

	return nil
}

// List returns the finished steps of a service order in completion order.
func (r *PostgresCheckpointRepository) List(
	ctx context.Context,
	serviceOrderID string,
) ([]cascade.Checkpoint, error) {
	sql, args, err := r.sb.Select("service_order_id::text", "table_name", "rows_deleted", "completed_at").
		From("cascade_checkpoints").
		Where(sq.Eq{"service_order_id": serviceOrderID}).
		OrderBy("completed_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, postgres.WrapError("cascade_checkpoints.list", err)
	}
	defer rows.Close()

	var checkpoints []cascade.Checkpoint
	for rows.Next() {
		var cp cascade.Checkpoint
		if err := rows.Scan(&cp.ServiceOrderID, &cp.Table, &cp.Rows, &cp.CompletedAt); err != nil {
			return nil, postgres.WrapError("cascade_checkpoints.scan", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError("cascade_checkpoints.list", err)
	}

	return checkpoints, nil
}

// Clear removes the checkpoints of a completed cascade.
func (r *PostgresCheckpointRepository) Clear(ctx context.Context, serviceOrderID string) error {
	sql, args, err := r.sb.Delete("cascade_checkpoints").
		Where(sq.Eq{"service_order_id": serviceOrderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, sql, args...); err != nil {
		return postgres.WrapError("cascade_checkpoints.clear", err)
	}

	return nil
}
