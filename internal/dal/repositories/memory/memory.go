// Package memory is an in-process implementation of every repository port. It keeps
// the same guarantees the Postgres schema gives: version-conditioned writes, one
// pending order per merge target and per-table dependent deletes. It does not
// support transactions, so cascades on it run checkpointed.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/outbox"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
)

const materialOrdersTable = "material_orders"

// Row is a dependent-table row: its id and foreign key values by column.
type Row struct {
	ID      string
	Columns map[string]string
}

// Store holds all state behind one mutex.
type Store struct {
	mu            sync.Mutex
	orders        map[string]materialorder.MaterialOrder
	serviceOrders map[string]serviceorder.ServiceOrder
	dependents    map[string][]Row
	checkpoints   map[string][]cascade.Checkpoint
	outbox        map[int64]outbox.OutboxMessage
	nextOutboxID  int64
	now           func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		orders:        map[string]materialorder.MaterialOrder{},
		serviceOrders: map[string]serviceorder.ServiceOrder{},
		dependents:    map[string][]Row{},
		checkpoints:   map[string][]cascade.Checkpoint{},
		outbox:        map[int64]outbox.OutboxMessage{},
		now:           time.Now,
	}
}

// MaterialOrders returns the material order repository.
func (s *Store) MaterialOrders() *MaterialOrderRepository {
	return &MaterialOrderRepository{store: s}
}

// ServiceOrders returns the service order repository.
func (s *Store) ServiceOrders() *ServiceOrderRepository {
	return &ServiceOrderRepository{store: s}
}

// Dependents returns the dependent-table repository.
func (s *Store) Dependents() *DependentRepository {
	return &DependentRepository{store: s}
}

// Checkpoints returns the cascade checkpoint repository.
func (s *Store) Checkpoints() *CheckpointRepository {
	return &CheckpointRepository{store: s}
}

// Outbox returns the outbox repository.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{store: s}
}

// AddServiceOrder seeds a service order.
func (s *Store) AddServiceOrder(so serviceorder.ServiceOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if so.CreatedAt.IsZero() {
		so.CreatedAt = s.now()
	}
	s.serviceOrders[so.ID] = so
}

// AddDependentRow seeds a row of a dependent table referencing id through column.
func (s *Store) AddDependentRow(table, column, rowID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents[table] = append(s.dependents[table], Row{ID: rowID, Columns: map[string]string{column: id}})
}

// CountReferences counts rows of table referencing id through column.
func (s *Store) CountReferences(table, column, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if table == materialOrdersTable {
		n := 0
		for _, o := range s.orders {
			if o.ServiceOrderID == id {
				n++
			}
		}

		return n
	}

	n := 0
	for _, row := range s.dependents[table] {
		if row.Columns[column] == id {
			n++
		}
	}

	return n
}

// MaterialOrderRepository implements imaterialorderrepo.IMaterialOrderRepository.
type MaterialOrderRepository struct {
	store *Store
}

// Get returns the order by id.
func (r *MaterialOrderRepository) Get(ctx context.Context, id string) (materialorder.MaterialOrder, error) {
	if err := ctx.Err(); err != nil {
		return materialorder.MaterialOrder{}, errs.Store("material_orders.get", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	o, ok := r.store.orders[id]
	if !ok {
		return materialorder.MaterialOrder{}, errs.NotFound("material order %s", id)
	}

	return o.Clone(), nil
}

// FindPending returns the pending orders of a merge target.
func (r *MaterialOrderRepository) FindPending(
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

// Query retrieves orders based on filter criteria, ordered by creation time.
func (r *MaterialOrderRepository) Query(
	ctx context.Context,
	filter *materialorder.QueryMaterialOrdersModel,
) ([]materialorder.MaterialOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Store("material_orders.query", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var result []materialorder.MaterialOrder
	for _, o := range r.store.orders {
		if len(filter.Ids) > 0 && !contains(filter.Ids, o.ID) {
			continue
		}
		if len(filter.ServiceOrderIds) > 0 && !contains(filter.ServiceOrderIds, o.ServiceOrderID) {
			continue
		}
		if len(filter.OrderTypes) > 0 && !contains(filter.OrderTypes, o.OrderType) {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, o.Status) {
			continue
		}
		result = append(result, o.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}

		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Insert creates the order with version 1.
func (r *MaterialOrderRepository) Insert(
	ctx context.Context,
	order materialorder.MaterialOrder,
) (materialorder.MaterialOrder, error) {
	if err := ctx.Err(); err != nil {
		return materialorder.MaterialOrder{}, errs.Store("material_orders.insert", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.orders[order.ID]; ok {
		return materialorder.MaterialOrder{}, fmt.Errorf("%w: material order %s already exists", errs.ErrStaleVersion, order.ID)
	}
	if order.Status == materialorder.StatusPending && r.store.pendingTaken(order, "") {
		return materialorder.MaterialOrder{}, fmt.Errorf("%w: pending order for %s/%s already exists",
			errs.ErrStaleVersion, order.ServiceOrderID, order.OrderType)
	}

	order.Version = 1
	stored := order.Clone()
	r.store.orders[order.ID] = stored

	return stored.Clone(), nil
}

// UpdateVersioned replaces the order if its version still equals expectedVersion.
func (r *MaterialOrderRepository) UpdateVersioned(
	ctx context.Context,
	order materialorder.MaterialOrder,
	expectedVersion int64,
) (materialorder.MaterialOrder, error) {
	if err := ctx.Err(); err != nil {
		return materialorder.MaterialOrder{}, errs.Store("material_orders.update", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.orders[order.ID]
	if !ok {
		return materialorder.MaterialOrder{}, errs.NotFound("material order %s", order.ID)
	}
	if current.Version != expectedVersion {
		return materialorder.MaterialOrder{}, fmt.Errorf("%w: material order %s at version %d, expected %d",
			errs.ErrStaleVersion, order.ID, current.Version, expectedVersion)
	}
	if order.Status == materialorder.StatusPending && r.store.pendingTaken(order, order.ID) {
		return materialorder.MaterialOrder{}, fmt.Errorf("%w: pending order for %s/%s already exists",
			errs.ErrStaleVersion, order.ServiceOrderID, order.OrderType)
	}

	next := order.Clone()
	next.ServiceOrderID = current.ServiceOrderID
	next.OrderType = current.OrderType
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	r.store.orders[order.ID] = next

	return next.Clone(), nil
}

// DeleteVersioned deletes the order if its version still equals expectedVersion.
func (r *MaterialOrderRepository) DeleteVersioned(ctx context.Context, id string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return errs.Store("material_orders.delete", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.orders[id]
	if !ok {
		return errs.NotFound("material order %s", id)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: material order %s at version %d, expected %d",
			errs.ErrStaleVersion, id, current.Version, expectedVersion)
	}
	delete(r.store.orders, id)

	return nil
}

// pendingTaken reports whether another pending order owns the same merge target.
// Callers hold the lock.
func (s *Store) pendingTaken(order materialorder.MaterialOrder, exceptID string) bool {
	for id, o := range s.orders {
		if id == exceptID {
			continue
		}
		if o.Status == materialorder.StatusPending &&
			o.ServiceOrderID == order.ServiceOrderID &&
			o.OrderType == order.OrderType {
			return true
		}
	}

	return false
}

// PutOrder stores an order as is, bypassing every check. Tests use it to build
// states the repository API refuses to create, such as duplicate pending orders.
func (s *Store) PutOrder(order materialorder.MaterialOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Version == 0 {
		order.Version = 1
	}
	s.orders[order.ID] = order.Clone()
}

// ServiceOrderRepository implements iserviceorderrepo.IServiceOrderRepository.
type ServiceOrderRepository struct {
	store *Store
}

// Get returns the service order by id.
func (r *ServiceOrderRepository) Get(ctx context.Context, id string) (serviceorder.ServiceOrder, error) {
	if err := ctx.Err(); err != nil {
		return serviceorder.ServiceOrder{}, errs.Store("service_orders.get", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	so, ok := r.store.serviceOrders[id]
	if !ok {
		return serviceorder.ServiceOrder{}, errs.NotFound("service order %s", id)
	}

	return so, nil
}

// FindIDByOrderNumber maps a legacy order number to its canonical id.
func (r *ServiceOrderRepository) FindIDByOrderNumber(ctx context.Context, orderNumber string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.Store("service_orders.find", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, so := range r.store.serviceOrders {
		if so.OrderNumber == orderNumber {
			return so.ID, nil
		}
	}

	return "", errs.NotFound("service order number %s", orderNumber)
}

// Delete removes the service order.
func (r *ServiceOrderRepository) Delete(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Store("service_orders.delete", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.serviceOrders[id]; !ok {
		return 0, nil
	}
	delete(r.store.serviceOrders, id)

	return 1, nil
}

// DependentRepository implements icascaderepo.IDependentRepository.
type DependentRepository struct {
	store *Store
}

// DeleteByColumn removes every row of dep.Table referencing id through dep.Column.
func (r *DependentRepository) DeleteByColumn(ctx context.Context, dep cascade.DependentTable, id string) (int64, error) {
	if err := dep.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, errs.Store(dep.Table+".delete", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if dep.Table == materialOrdersTable && dep.Column == cascade.ColumnServiceOrderID {
		var n int64
		for orderID, o := range r.store.orders {
			if o.ServiceOrderID == id {
				delete(r.store.orders, orderID)
				n++
			}
		}

		return n, nil
	}

	rows := r.store.dependents[dep.Table]
	kept := rows[:0]
	var n int64
	for _, row := range rows {
		if row.Columns[dep.Column] == id {
			n++
			continue
		}
		kept = append(kept, row)
	}
	r.store.dependents[dep.Table] = kept

	return n, nil
}

// CheckpointRepository implements icascaderepo.ICheckpointRepository.
type CheckpointRepository struct {
	store *Store
}

// Save records a finished step.
func (r *CheckpointRepository) Save(ctx context.Context, cp cascade.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return errs.Store("cascade_checkpoints.save", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if cp.CompletedAt.IsZero() {
		cp.CompletedAt = r.store.now()
	}
	list := r.store.checkpoints[cp.ServiceOrderID]
	for i := range list {
		if list[i].Table == cp.Table {
			list[i] = cp

			return nil
		}
	}
	r.store.checkpoints[cp.ServiceOrderID] = append(list, cp)

	return nil
}

// List returns the finished steps in completion order.
func (r *CheckpointRepository) List(ctx context.Context, serviceOrderID string) ([]cascade.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Store("cascade_checkpoints.list", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return append([]cascade.Checkpoint(nil), r.store.checkpoints[serviceOrderID]...), nil
}

// Clear drops the checkpoints of a service order.
func (r *CheckpointRepository) Clear(ctx context.Context, serviceOrderID string) error {
	if err := ctx.Err(); err != nil {
		return errs.Store("cascade_checkpoints.clear", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.checkpoints, serviceOrderID)

	return nil
}

// OutboxRepository implements ioutboxrepo.IOutboxRepository.
type OutboxRepository struct {
	store *Store
}

// Insert adds a message.
func (r *OutboxRepository) Insert(_ context.Context, msg outbox.OutboxMessage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.nextOutboxID++
	msg.ID = r.store.nextOutboxID
	r.store.outbox[msg.ID] = msg

	return nil
}

// GetPendingMessages returns up to limit messages that are due.
func (r *OutboxRepository) GetPendingMessages(_ context.Context, limit int) ([]outbox.OutboxMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	var due []outbox.OutboxMessage
	for _, msg := range r.store.outbox {
		if msg.Ready(now) {
			due = append(due, msg)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// Delete removes a message.
func (r *OutboxRepository) Delete(_ context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.outbox, id)

	return nil
}

// UpdateRetry records a failed delivery attempt.
func (r *OutboxRepository) UpdateRetry(_ context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	msg, ok := r.store.outbox[id]
	if !ok {
		return errs.NotFound("outbox message %d", id)
	}
	msg.RetryCount = retryCount
	msg.LastError = lastError
	msg.NextRetryAt = nextRetryAt
	msg.UpdatedAt = r.store.now()
	r.store.outbox[id] = msg

	return nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}

	return false
}
