package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/corray333/backend-labs/materials/internal/dal/repositories/memory"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/outbox"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
)

func pending(id, serviceOrderID string) materialorder.MaterialOrder {
	return materialorder.MaterialOrder{
		ID:             id,
		ServiceOrderID: serviceOrderID,
		OrderType:      materialorder.OrderTypeRental,
		Status:         materialorder.StatusPending,
		CreatedAt:      time.Now(),
	}
}

func TestInsertEnforcesSinglePendingOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewStore().MaterialOrders()

	stored, err := repo.Insert(ctx, pending("o-1", "so-1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.Version)

	_, err = repo.Insert(ctx, pending("o-2", "so-1"))
	require.ErrorIs(t, err, errs.ErrStaleVersion)

	_, err = repo.Insert(ctx, pending("o-1", "so-2"))
	require.ErrorIs(t, err, errs.ErrStaleVersion)

	sent := pending("o-3", "so-1")
	sent.Status = materialorder.StatusSent
	_, err = repo.Insert(ctx, sent)
	require.NoError(t, err)
}

func TestUpdateVersionedChecksVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewStore().MaterialOrders()
	stored, err := repo.Insert(ctx, pending("o-1", "so-1"))
	require.NoError(t, err)

	stored.Total = decimal.NewFromInt(10)
	stored.ServiceOrderID = "so-other"
	updated, err := repo.UpdateVersioned(ctx, stored, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated.Version)
	require.Equal(t, "so-1", updated.ServiceOrderID, "merge target is immutable")

	_, err = repo.UpdateVersioned(ctx, stored, 1)
	require.ErrorIs(t, err, errs.ErrStaleVersion)

	err = repo.DeleteVersioned(ctx, "o-1", 1)
	require.ErrorIs(t, err, errs.ErrStaleVersion)
	require.NoError(t, repo.DeleteVersioned(ctx, "o-1", 2))

	_, err = repo.Get(ctx, "o-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestQueryFiltersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ot := range []materialorder.OrderType{
		materialorder.OrderTypeRental, materialorder.OrderTypeIce, materialorder.OrderTypeCleaning,
	} {
		o := pending(string(ot), "so-1")
		o.OrderType = ot
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		store.PutOrder(o)
	}
	store.PutOrder(pending("elsewhere", "so-2"))

	repo := store.MaterialOrders()
	all, err := repo.Query(ctx, &materialorder.QueryMaterialOrdersModel{ServiceOrderIds: []string{"so-1"}})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "Rental", all[0].ID)

	page, err := repo.Query(ctx, &materialorder.QueryMaterialOrdersModel{
		ServiceOrderIds: []string{"so-1"}, Limit: 1, Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "Ice", page[0].ID)

	ice, err := repo.FindPending(ctx, "so-1", materialorder.OrderTypeIce)
	require.NoError(t, err)
	require.Len(t, ice, 1)
}

func TestCancelledContextIsStoreError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := memory.NewStore().MaterialOrders().Get(ctx, "o-1")
	require.ErrorIs(t, err, errs.ErrStore)
}

func TestDependentsDeleteByColumn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	store.AddServiceOrder(serviceorder.ServiceOrder{ID: "so-1", OrderNumber: "1"})
	store.AddDependentRow("picking_sheets", cascade.ColumnEventID, "r-1", "so-1")
	store.AddDependentRow("picking_sheets", cascade.ColumnEventID, "r-2", "so-1")
	store.AddDependentRow("picking_sheets", cascade.ColumnEventID, "r-3", "so-2")
	store.PutOrder(pending("o-1", "so-1"))

	deps := store.Dependents()
	n, err := deps.DeleteByColumn(ctx, cascade.DependentTable{Table: "picking_sheets", Column: cascade.ColumnEventID}, "so-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 1, store.CountReferences("picking_sheets", cascade.ColumnEventID, "so-2"))

	n, err = deps.DeleteByColumn(ctx, cascade.DependentTable{Table: "material_orders", Column: cascade.ColumnServiceOrderID}, "so-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Zero(t, store.CountReferences("material_orders", cascade.ColumnServiceOrderID, "so-1"))

	_, err = deps.DeleteByColumn(ctx, cascade.DependentTable{Table: "x; drop", Column: "id"}, "so-1")
	require.Error(t, err)
}

func TestCheckpointsUpsertByTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewStore().Checkpoints()

	require.NoError(t, repo.Save(ctx, cascade.Checkpoint{ServiceOrderID: "so-1", Table: "briefings", Rows: 1}))
	require.NoError(t, repo.Save(ctx, cascade.Checkpoint{ServiceOrderID: "so-1", Table: "briefings", Rows: 0}))
	require.NoError(t, repo.Save(ctx, cascade.Checkpoint{ServiceOrderID: "so-1", Table: "cost_records", Rows: 3}))

	list, err := repo.List(ctx, "so-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "briefings", list[0].Table)

	require.NoError(t, repo.Clear(ctx, "so-1"))
	list, err = repo.List(ctx, "so-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestOutboxReadyMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewStore().Outbox()
	now := time.Now()

	require.NoError(t, repo.Insert(ctx, outbox.OutboxMessage{EventID: "e-1", MaxRetries: 3, NextRetryAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Insert(ctx, outbox.OutboxMessage{EventID: "e-2", MaxRetries: 3, NextRetryAt: now.Add(time.Hour)}))

	due, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "e-1", due[0].EventID)

	require.NoError(t, repo.UpdateRetry(ctx, due[0].ID, 3, "broker down", now.Add(-time.Second)))
	due, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due, "exhausted messages are not retried")
}
