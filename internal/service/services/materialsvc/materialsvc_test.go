package materialsvc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/imaterialorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/repositories/events"
	"github.com/corray333/backend-labs/materials/internal/dal/repositories/memory"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/materials/internal/service/models/outbox"
	"github.com/corray333/backend-labs/materials/internal/service/models/serviceorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/materialsvc"
	"github.com/corray333/backend-labs/materials/internal/service/services/resolver"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

var d = decimal.RequireFromString

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)

	return nil
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}

	return out
}

type fixture struct {
	store          *memory.Store
	svc            *materialsvc.MaterialService
	events         *recordingPublisher
	serviceOrderID string
}

var testPolicy = storecall.Policy{Timeout: time.Second, ReadRetries: 1, RetryDelay: time.Millisecond}

// wrapRepo decorates the memory repository of a fixture.
type wrapRepo func(*memory.MaterialOrderRepository) imaterialorderrepo.IMaterialOrderRepository

func newFixture(t *testing.T, wrap wrapRepo, policy materialorder.TotalPolicy) *fixture {
	t.Helper()

	store := memory.NewStore()
	f := &fixture{store: store, events: &recordingPublisher{}, serviceOrderID: uuid.NewString()}
	store.AddServiceOrder(serviceorder.ServiceOrder{ID: f.serviceOrderID, OrderNumber: "EV-2026-001"})
	var repo imaterialorderrepo.IMaterialOrderRepository = store.MaterialOrders()
	if wrap != nil {
		repo = wrap(store.MaterialOrders())
	}

	f.svc = materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(repo),
		materialsvc.WithResolver(resolver.New(store.ServiceOrders(), resolver.WithPolicy(testPolicy))),
		materialsvc.WithEventPublisher(f.events),
		materialsvc.WithStorePolicy(testPolicy),
		materialsvc.WithRetry(10, time.Millisecond, 5*time.Millisecond),
		materialsvc.WithTotalPolicy(policy),
	)

	return f
}

func item(code, qty, price string) orderitem.OrderItem {
	return orderitem.OrderItem{ItemCode: code, Quantity: d(qty), Price: d(price)}
}

func (f *fixture) upsert(t *testing.T, items ...orderitem.OrderItem) materialsvc.UpsertResult {
	t.Helper()

	res, err := f.svc.Upsert(context.Background(), materialsvc.UpsertRequest{
		ServiceOrderID: f.serviceOrderID,
		OrderType:      "Rental",
		Items:          items,
	})
	require.NoError(t, err)

	return res
}

func (f *fixture) order(t *testing.T, id string) materialorder.MaterialOrder {
	t.Helper()

	o, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)

	return o
}

// putFrozen stores an order that has left the pending status.
func (f *fixture) putFrozen(id string, status materialorder.Status, items ...orderitem.OrderItem) materialorder.MaterialOrder {
	o := materialorder.MaterialOrder{
		ID:             id,
		ServiceOrderID: f.serviceOrderID,
		OrderType:      materialorder.OrderTypeRental,
		Status:         status,
		Items:          items,
		Version:        1,
	}
	for i := range o.Items {
		o.Items[i].Recalculate()
	}
	o.RecomputeTotal()
	f.store.PutOrder(o)

	return o
}

func TestUpsertTotalScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)

	first := f.upsert(t, item("A", "2", "5"))
	require.True(t, first.Created)
	require.Equal(t, "10", first.Total.String())
	require.Equal(t, 1, first.ItemCount)

	second := f.upsert(t, item("A", "3", "5"), item("B", "1", "20"))
	require.False(t, second.Created)
	require.Equal(t, first.OrderID, second.OrderID)
	require.Equal(t, "45", second.Total.String())

	o := f.order(t, first.OrderID)
	require.Equal(t, []string{"A", "B"}, orderitem.Codes(o.Items))
	require.Equal(t, "5", o.Items[0].Quantity.String())
	require.Equal(t, "25", o.Items[0].LineTotal.String())
	require.EqualValues(t, 2, o.Version)
	require.Equal(t, []event.Type{event.MaterialOrderCreated, event.MaterialOrderMerged}, f.events.types())
}

func TestUpsertKeepsCentsExact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)

	res := f.upsert(t, item("ROPE", "0.1", "1"), item("HALF", "1", "1.005"))
	f.upsert(t, item("ROPE", "0.2", "1"))

	o := f.order(t, res.OrderID)
	require.Equal(t, "0.3", o.Items[0].Quantity.String())
	require.Equal(t, "0.3", o.Items[0].LineTotal.String())
	require.Equal(t, "1.01", o.Items[1].LineTotal.String())
	require.Equal(t, "1.31", o.Total.String())
	require.True(t, o.TotalConsistent())
}

func TestUpsertMergeOverwritesFieldsExceptQuantity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	existing := item("X", "2", "9")
	existing.Description = "Bistro table"
	res := f.upsert(t, existing)

	f.upsert(t, item("X", "1", "10"))

	o := f.order(t, res.OrderID)
	require.Len(t, o.Items, 1)
	require.Equal(t, "3", o.Items[0].Quantity.String())
	require.Equal(t, "10", o.Items[0].Price.String())
	require.Empty(t, o.Items[0].Description)
	require.Equal(t, "30", o.Total.String())
}

func TestUpsertKeepsItemCodesUnique(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	res := f.upsert(t, item("A", "1", "1"), item("A", "1", "1"), item("B", "1", "1"))
	f.upsert(t, item("B", "1", "1"), item("C", "1", "1"), item("C", "2", "1"))

	o := f.order(t, res.OrderID)
	seen := map[string]bool{}
	for _, i := range o.Items {
		require.False(t, seen[i.ItemCode], "duplicate item code %s", i.ItemCode)
		seen[i.ItemCode] = true
	}
	require.Equal(t, []string{"A", "B", "C"}, orderitem.Codes(o.Items))
	require.Equal(t, "2", o.Items[0].Quantity.String())
	require.Equal(t, "3", o.Items[2].Quantity.String())
}

func TestUpsertOverwritesDeliveryAndKeepsCreationFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	ctx := context.Background()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := f.svc.Upsert(ctx, materialsvc.UpsertRequest{
		ServiceOrderID: f.serviceOrderID,
		OrderType:      "rental",
		Items:          []orderitem.OrderItem{item("A", "1", "1")},
		Delivery:       materialorder.DeliveryMeta{DeliveryDate: &date, DeliverySpace: "Hall 1", Department: "Events"},
		Days:           3,
		ContractNumber: "C-77",
	})
	require.NoError(t, err)

	_, err = f.svc.Upsert(ctx, materialsvc.UpsertRequest{
		ServiceOrderID: "EV-2026-001",
		OrderType:      "Rental",
		Items:          []orderitem.OrderItem{item("B", "1", "1")},
		Delivery:       materialorder.DeliveryMeta{DeliverySpace: "Hall 2"},
		Days:           9,
	})
	require.NoError(t, err)

	o := f.order(t, res.OrderID)
	require.Equal(t, materialorder.DeliveryMeta{DeliverySpace: "Hall 2"}, o.Delivery)
	require.Equal(t, 3, o.Days)
	require.Equal(t, "C-77", o.ContractNumber)
}

func TestUpsertValidationWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	ctx := context.Background()
	one := []orderitem.OrderItem{item("A", "1", "1")}

	cases := map[string]materialsvc.UpsertRequest{
		"missing item code": {ServiceOrderID: f.serviceOrderID, OrderType: "Rental", Items: []orderitem.OrderItem{item("A", "1", "1"), item("", "1", "1")}},
		"negative price":    {ServiceOrderID: f.serviceOrderID, OrderType: "Rental", Items: []orderitem.OrderItem{item("A", "1", "-0.01")}},
		"unknown type":      {ServiceOrderID: f.serviceOrderID, OrderType: "Catering", Items: one},
		"no items":          {ServiceOrderID: f.serviceOrderID, OrderType: "Rental"},
		"negative days":     {ServiceOrderID: f.serviceOrderID, OrderType: "Rental", Items: one, Days: -1},
		"blank identifier":  {ServiceOrderID: " ", OrderType: "Rental", Items: one},
	}
	for name, req := range cases {
		_, err := f.svc.Upsert(ctx, req)
		require.ErrorIs(t, err, errs.ErrValidation, name)
	}

	orders, err := f.svc.ListByServiceOrder(ctx, f.serviceOrderID, materialsvc.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Empty(t, f.events.types())
}

func TestUpsertUnknownServiceOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	ctx := context.Background()
	unknown := uuid.NewString()

	for _, identifier := range []string{"EV-0000", unknown} {
		_, err := f.svc.Upsert(ctx, materialsvc.UpsertRequest{
			ServiceOrderID: identifier,
			OrderType:      "Rental",
			Items:          []orderitem.OrderItem{item("A", "1", "1")},
		})
		require.ErrorIs(t, err, errs.ErrNotFound, identifier)
	}

	orders, err := f.svc.ListByServiceOrder(ctx, unknown, materialsvc.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders, "no order may reference a missing service order")
	require.Empty(t, f.events.types())
}

func TestUpsertFailsLoudlyOnDuplicatePendingOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	for _, id := range []string{"dup-1", "dup-2"} {
		f.store.PutOrder(materialorder.MaterialOrder{
			ID:             id,
			ServiceOrderID: f.serviceOrderID,
			OrderType:      materialorder.OrderTypeRental,
			Status:         materialorder.StatusPending,
			Items:          []orderitem.OrderItem{item("A", "1", "1")},
		})
	}

	_, err := f.svc.Upsert(context.Background(), materialsvc.UpsertRequest{
		ServiceOrderID: f.serviceOrderID,
		OrderType:      "Rental",
		Items:          []orderitem.OrderItem{item("B", "1", "1")},
	})
	require.ErrorIs(t, err, errs.ErrConflict)
	require.NotErrorIs(t, err, errs.ErrConcurrentModification)
	require.Equal(t, 1, len(f.order(t, "dup-1").Items))
}

func TestUpsertNeverTargetsFrozenOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	f.putFrozen("sent-1", materialorder.StatusSent, item("A", "1", "1"))

	res := f.upsert(t, item("A", "1", "1"))
	require.True(t, res.Created)
	require.NotEqual(t, "sent-1", res.OrderID)
	require.Equal(t, "1", f.order(t, "sent-1").Items[0].Quantity.String())
}

func TestFrozenOrdersRejectEdits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	ctx := context.Background()
	sent := f.putFrozen("sent-1", materialorder.StatusSent, item("A", "2", "5"), item("B", "1", "20"))
	lone := f.putFrozen("done-1", materialorder.StatusCompleted, item("Z", "1", "3"))

	_, err := f.svc.UpdateItemField(ctx, sent.ID, "A", "quantity", 9)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Contains(t, err.Error(), "Sent")

	require.ErrorIs(t, f.svc.DeleteItem(ctx, sent.ID, "B"), errs.ErrConflict)
	require.ErrorIs(t, f.svc.DeleteItem(ctx, sent.ID, "MISSING"), errs.ErrConflict)
	require.ErrorIs(t, f.svc.DeleteItem(ctx, lone.ID, "Z"), errs.ErrConflict, "the last item of a completed order stays")

	got := f.order(t, sent.ID)
	require.Equal(t, []string{"A", "B"}, orderitem.Codes(got.Items))
	require.Equal(t, "2", got.Items[0].Quantity.String())
	require.Equal(t, "30", got.Total.String())
	require.Equal(t, sent.Version, got.Version)
	require.Equal(t, []string{"Z"}, orderitem.Codes(f.order(t, lone.ID).Items))
	require.Empty(t, f.events.types())
}

func TestRecomputeTotalRejectsFrozenOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	sent := f.putFrozen("sent-1", materialorder.StatusSent, item("A", "2", "5"))
	sent.Total = d("99.99")
	f.store.PutOrder(sent)

	_, err := f.svc.RecomputeTotal(context.Background(), sent.ID)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Equal(t, "99.99", f.order(t, sent.ID).Total.String(), "the invoiced total is kept")
}

func TestAdjustmentsAreAcceptedOnFrozenOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	sent := f.putFrozen("sent-1", materialorder.StatusSent, item("A", "10", "2"))

	got, err := f.svc.AppendAdjustment(context.Background(), sent.ID, "A", orderitem.Adjustment{Type: "damage", Quantity: d("-1.5")})
	require.NoError(t, err)
	require.Len(t, got.Adjustments, 1)
	require.Equal(t, "-1.5", got.Adjustments[0].Quantity.String())

	o := f.order(t, sent.ID)
	require.Equal(t, materialorder.StatusSent, o.Status)
	require.Equal(t, "20", o.Total.String())
	require.Equal(t, []event.Type{event.MaterialOrderAdjusted}, f.events.types())
}

func TestConcurrentUpsertsLoseNoUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	codes := []string{"A", "B", "C", "D", "E", "F"}

	var wg sync.WaitGroup
	errCh := make(chan error, len(codes))
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := f.svc.Upsert(context.Background(), materialsvc.UpsertRequest{
				ServiceOrderID: f.serviceOrderID,
				OrderType:      "Rental",
				Items:          []orderitem.OrderItem{item(code, "1", "2")},
			})
			errCh <- err
		}(code)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	orders, err := f.svc.ListByServiceOrder(context.Background(), f.serviceOrderID, materialsvc.ListFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.ElementsMatch(t, codes, orderitem.Codes(orders[0].Items))
	require.Equal(t, "12", orders[0].Total.String())
}

func TestConcurrentFieldUpdatesOnDistinctItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	codes := []string{"A", "B", "C", "D", "E", "F"}
	batch := make([]orderitem.OrderItem, len(codes))
	for i, code := range codes {
		batch[i] = item(code, "1", "1.25")
	}
	res := f.upsert(t, batch...)

	var wg sync.WaitGroup
	errCh := make(chan error, len(codes))
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := f.svc.UpdateItemField(context.Background(), res.OrderID, code, "quantity", "3")
			errCh <- err
		}(code)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	o := f.order(t, res.OrderID)
	for _, i := range o.Items {
		require.Equal(t, "3", i.Quantity.String(), "item %s", i.ItemCode)
		require.Equal(t, "3.75", i.LineTotal.String(), "item %s", i.ItemCode)
	}
	require.Equal(t, "22.5", o.Total.String())
	require.True(t, o.TotalConsistent())
	require.EqualValues(t, 1+len(codes), o.Version)
}

// race runs fns at the same time and returns their errors in order.
func race(fns ...func() error) []error {
	out := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			<-start
			out[i] = fn()
		}(i, fn)
	}
	close(start)
	wg.Wait()

	return out
}

func TestFieldUpdateRacingItemDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for round := 0; round < 20; round++ {
		f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
		res := f.upsert(t, item("A", "1", "4"), item("B", "2", "5"), item("C", "1", "1"))

		results := race(
			func() error {
				_, err := f.svc.UpdateItemField(ctx, res.OrderID, "A", "quantity", 2)
				return err
			},
			func() error { return f.svc.DeleteItem(ctx, res.OrderID, "B") },
			func() error {
				_, err := f.svc.UpdateItemField(ctx, res.OrderID, "C", "price", "2.5")
				if errors.Is(err, errs.ErrNotFound) {
					return nil
				}

				return err
			},
			func() error { return f.svc.DeleteItem(ctx, res.OrderID, "C") },
		)
		for i, err := range results {
			require.NoError(t, err, "round %d call %d", round, i)
		}

		o := f.order(t, res.OrderID)
		require.Equal(t, []string{"A"}, orderitem.Codes(o.Items), "round %d", round)
		require.Equal(t, "2", o.Items[0].Quantity.String())
		require.Equal(t, "8", o.Total.String())
		require.True(t, o.TotalConsistent())
	}
}

func TestUpsertRacingLastItemDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for round := 0; round < 20; round++ {
		f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
		res := f.upsert(t, item("A", "1", "4"))

		results := race(
			func() error { return f.svc.DeleteItem(ctx, res.OrderID, "A") },
			func() error {
				_, err := f.svc.Upsert(ctx, materialsvc.UpsertRequest{
					ServiceOrderID: f.serviceOrderID,
					OrderType:      "Rental",
					Items:          []orderitem.OrderItem{item("B", "2", "3")},
				})
				return err
			},
		)
		require.NoError(t, results[0], "round %d delete", round)
		require.NoError(t, results[1], "round %d upsert", round)

		orders, err := f.svc.ListByServiceOrder(ctx, f.serviceOrderID, materialsvc.ListFilter{Statuses: []string{"Pending"}})
		require.NoError(t, err)
		require.Len(t, orders, 1, "round %d: exactly one pending order", round)
		require.Equal(t, []string{"B"}, orderitem.Codes(orders[0].Items), "round %d", round)
		require.Equal(t, "6", orders[0].Total.String())
	}
}

func TestUpdateItemFieldRecomputePolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	f.upsert(t, item("A", "2", "5"))
	res := f.upsert(t, item("A", "3", "5"), item("B", "1", "20"))

	updated, err := f.svc.UpdateItemField(context.Background(), res.OrderID, "A", "quantity", 1)
	require.NoError(t, err)
	require.Equal(t, "5", updated.LineTotal.String())

	o := f.order(t, res.OrderID)
	require.Equal(t, "25", o.Total.String())
	require.True(t, o.TotalConsistent())
	require.Equal(t, "20", o.Items[1].LineTotal.String(), "other items round-trip unchanged")
}

func TestUpdateItemFieldPreservePolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyPreserve)
	f.upsert(t, item("A", "2", "5"))
	res := f.upsert(t, item("A", "3", "5"), item("B", "1", "20"))

	updated, err := f.svc.UpdateItemField(context.Background(), res.OrderID, "A", "quantity", 1)
	require.NoError(t, err)
	require.Equal(t, "5", updated.LineTotal.String())

	o := f.order(t, res.OrderID)
	require.Equal(t, "45", o.Total.String(), "stored total is left as it was")
	require.False(t, o.TotalConsistent())

	repaired, err := f.svc.RecomputeTotal(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, "25", repaired.Total.String())
	require.Contains(t, f.events.types(), event.MaterialOrderRecomputed)

	again, err := f.svc.RecomputeTotal(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, repaired.Version, again.Version, "consistent totals are not rewritten")
}

func TestUpdateItemFieldErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	res := f.upsert(t, item("A", "1", "1"), item("B", "1", "1"))
	ctx := context.Background()

	_, err := f.svc.UpdateItemField(ctx, res.OrderID, "Z", "quantity", 1)
	var itemErr *errs.ItemNotFoundError
	require.ErrorAs(t, err, &itemErr)
	require.Equal(t, "Z", itemErr.ItemCode)
	require.Equal(t, []string{"A", "B"}, itemErr.Available)

	_, err = f.svc.UpdateItemField(ctx, res.OrderID, "A", "lineTotal", 1)
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.UpdateItemField(ctx, res.OrderID, "A", "quantity", "lots")
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.UpdateItemField(ctx, uuid.NewString(), "A", "quantity", 1)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.EqualValues(t, 1, f.order(t, res.OrderID).Version)
}

func TestDeleteItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	ctx := context.Background()
	res := f.upsert(t, item("A", "2", "5"), item("B", "1", "20"))

	require.NoError(t, f.svc.DeleteItem(ctx, res.OrderID, "B"))
	o := f.order(t, res.OrderID)
	require.Equal(t, []string{"A"}, orderitem.Codes(o.Items))
	require.Equal(t, "10", o.Total.String())

	require.NoError(t, f.svc.DeleteItem(ctx, res.OrderID, "B"), "deleting twice is a no-op")
	require.Equal(t, o.Version, f.order(t, res.OrderID).Version)

	require.NoError(t, f.svc.DeleteItem(ctx, res.OrderID, "A"))
	_, err := f.svc.Get(ctx, res.OrderID)
	require.ErrorIs(t, err, errs.ErrNotFound, "an order without items is deleted")

	require.NoError(t, f.svc.DeleteItem(ctx, res.OrderID, "A"))
	require.Equal(t, []event.Type{
		event.MaterialOrderCreated,
		event.MaterialOrderItemDeleted,
		event.MaterialOrderDeleted,
	}, f.events.types())

	require.ErrorIs(t, f.svc.DeleteItem(ctx, "", "A"), errs.ErrValidation)
}

func TestAppendAdjustmentLeavesTotalsAlone(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	soID := uuid.NewString()
	store.AddServiceOrder(serviceorder.ServiceOrder{ID: soID, OrderNumber: "EV-1"})
	svc := materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(store.MaterialOrders()),
		materialsvc.WithResolver(resolver.New(store.ServiceOrders())),
		materialsvc.WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	res, err := svc.Upsert(ctx, materialsvc.UpsertRequest{
		ServiceOrderID: soID, OrderType: "Ice", Items: []orderitem.OrderItem{item("ICE", "10", "2")},
	})
	require.NoError(t, err)

	got, err := svc.AppendAdjustment(ctx, res.OrderID, "ICE", orderitem.Adjustment{Type: "returned", Quantity: d("-3")})
	require.NoError(t, err)
	require.Len(t, got.Adjustments, 1)
	require.Equal(t, now, got.Adjustments[0].Date)
	require.Equal(t, "10", got.Quantity.String())
	require.Equal(t, "20", got.LineTotal.String())

	_, err = svc.AppendAdjustment(ctx, res.OrderID, "ICE", orderitem.Adjustment{Quantity: d("1")})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.AppendAdjustment(ctx, res.OrderID, "NOPE", orderitem.Adjustment{Type: "damage"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListByServiceOrderFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, materialorder.TotalPolicyRecompute)
	ctx := context.Background()
	f.upsert(t, item("A", "1", "1"))
	_, err := f.svc.Upsert(ctx, materialsvc.UpsertRequest{
		ServiceOrderID: f.serviceOrderID, OrderType: "Ice", Items: []orderitem.OrderItem{item("I", "1", "1")},
	})
	require.NoError(t, err)

	ice, err := f.svc.ListByServiceOrder(ctx, "EV-2026-001", materialsvc.ListFilter{OrderTypes: []string{"ice"}})
	require.NoError(t, err)
	require.Len(t, ice, 1)
	require.Equal(t, materialorder.OrderTypeIce, ice[0].OrderType)

	_, err = f.svc.ListByServiceOrder(ctx, f.serviceOrderID, materialsvc.ListFilter{Statuses: []string{"Archived"}})
	require.ErrorIs(t, err, errs.ErrValidation)
}

// staleRepo loses every version race.
type staleRepo struct {
	*memory.MaterialOrderRepository
	mu      sync.Mutex
	updates int
}

func (r *staleRepo) UpdateVersioned(
	context.Context,
	materialorder.MaterialOrder,
	int64,
) (materialorder.MaterialOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++

	return materialorder.MaterialOrder{}, errs.ErrStaleVersion
}

func newStaleService(t *testing.T, base, maxBackoff time.Duration) (*materialsvc.MaterialService, *staleRepo) {
	t.Helper()

	store := memory.NewStore()
	repo := &staleRepo{MaterialOrderRepository: store.MaterialOrders()}
	store.PutOrder(materialorder.MaterialOrder{
		ID: "o-1", ServiceOrderID: uuid.NewString(), OrderType: materialorder.OrderTypeRental,
		Status: materialorder.StatusPending, Items: []orderitem.OrderItem{item("A", "1", "1")},
	})

	return materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(repo),
		materialsvc.WithResolver(resolver.New(store.ServiceOrders())),
		materialsvc.WithRetry(3, base, maxBackoff),
	), repo
}

func TestRetriesExhaustedIsConcurrentModification(t *testing.T) {
	t.Parallel()

	svc, repo := newStaleService(t, time.Millisecond, 2*time.Millisecond)

	_, err := svc.UpdateItemField(context.Background(), "o-1", "A", "price", 4)
	require.ErrorIs(t, err, errs.ErrConcurrentModification)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.False(t, errs.Changed(err))
	require.Equal(t, 3, repo.updates)
}

func TestBackoffStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	svc, repo := newStaleService(t, time.Hour, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := svc.UpdateItemField(ctx, "o-1", "A", "price", 4)
	require.ErrorIs(t, err, errs.ErrStore)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, errs.ErrConcurrentModification)
	require.Equal(t, 1, repo.updates)
	require.Less(t, time.Since(started), time.Minute)
}

// failingInsertRepo fails every insert with a store error.
type failingInsertRepo struct {
	*memory.MaterialOrderRepository
	inserts int
}

func (r *failingInsertRepo) Insert(context.Context, materialorder.MaterialOrder) (materialorder.MaterialOrder, error) {
	r.inserts++

	return materialorder.MaterialOrder{}, errs.Store("material_orders.insert", errors.New("connection reset"))
}

func TestWritesAreNotRetriedOnStoreError(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	repo := &failingInsertRepo{MaterialOrderRepository: store.MaterialOrders()}
	soID := uuid.NewString()
	store.AddServiceOrder(serviceorder.ServiceOrder{ID: soID})
	svc := materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(repo),
		materialsvc.WithResolver(resolver.New(store.ServiceOrders())),
	)

	_, err := svc.Upsert(context.Background(), materialsvc.UpsertRequest{
		ServiceOrderID: soID, OrderType: "Rental", Items: []orderitem.OrderItem{item("A", "1", "1")},
	})
	require.ErrorIs(t, err, errs.ErrStore)
	require.ErrorIs(t, err, errs.ErrOutcomeUnknown)
	require.True(t, errs.Changed(err), "a failed insert may still have landed")
	require.Equal(t, 1, repo.inserts)
}

// appliedThenFailedRepo applies every update and then reports a lost connection.
type appliedThenFailedRepo struct {
	*memory.MaterialOrderRepository
}

func (r *appliedThenFailedRepo) UpdateVersioned(
	ctx context.Context,
	order materialorder.MaterialOrder,
	expectedVersion int64,
) (materialorder.MaterialOrder, error) {
	if _, err := r.MaterialOrderRepository.UpdateVersioned(ctx, order, expectedVersion); err != nil {
		return materialorder.MaterialOrder{}, err
	}

	return materialorder.MaterialOrder{}, errs.Store("material_orders.update", errors.New("connection reset after write"))
}

func TestStoreFailureAfterWriteReportsChangedState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(r *memory.MaterialOrderRepository) imaterialorderrepo.IMaterialOrderRepository {
		return &appliedThenFailedRepo{MaterialOrderRepository: r}
	}, materialorder.TotalPolicyRecompute)
	f.store.PutOrder(materialorder.MaterialOrder{
		ID: "o-1", ServiceOrderID: f.serviceOrderID, OrderType: materialorder.OrderTypeRental,
		Status: materialorder.StatusPending, Items: []orderitem.OrderItem{item("A", "1", "1")}, Version: 1,
	})

	_, err := f.svc.UpdateItemField(context.Background(), "o-1", "A", "quantity", 7)
	require.ErrorIs(t, err, errs.ErrStore)
	require.ErrorIs(t, err, errs.ErrOutcomeUnknown)
	require.Equal(t, "store", errs.Kind(err))
	require.True(t, errs.Changed(err))
	require.Empty(t, f.events.types())

	stored, err := f.store.MaterialOrders().Get(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, "7", stored.Items[0].Quantity.String(), "the write did land")
}

func TestMustNewMaterialServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	require.Panics(t, func() { materialsvc.MustNewMaterialService() })
	require.Panics(t, func() {
		materialsvc.MustNewMaterialService(materialsvc.WithOrderRepository(store.MaterialOrders()))
	})
	require.Panics(t, func() {
		materialsvc.MustNewMaterialService(
			materialsvc.WithOrderRepository(store.MaterialOrders()),
			materialsvc.WithResolver(resolver.New(store.ServiceOrders())),
			materialsvc.WithTransactionalOutbox(func() materialsvc.UnitOfWork { return nil }, nil),
		)
	}, "a transactional outbox needs a stager")
}

// stubUnitOfWork runs on memory repositories and records its calls.
type stubUnitOfWork struct {
	mu        sync.Mutex
	log       []string
	orders    imaterialorderrepo.IMaterialOrderRepository
	outbox    ioutboxrepo.IOutboxRepository
	commitErr error
}

func (u *stubUnitOfWork) record(call string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.log = append(u.log, call)
}

func (u *stubUnitOfWork) Begin(context.Context) error {
	u.record("begin")

	return nil
}

func (u *stubUnitOfWork) Commit(context.Context) error {
	u.record("commit")

	return u.commitErr
}

func (u *stubUnitOfWork) Rollback(context.Context) error {
	u.record("rollback")

	return nil
}

func (u *stubUnitOfWork) MaterialOrderRepository() imaterialorderrepo.IMaterialOrderRepository {
	return u.orders
}

func (u *stubUnitOfWork) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return u.outbox
}

// failingOutbox rejects every staged message.
type failingOutbox struct {
	*memory.OutboxRepository
}

func (failingOutbox) Insert(context.Context, outbox.OutboxMessage) error {
	return errs.Store("outbox.insert", errors.New("disk full"))
}

type txFixture struct {
	store     *memory.Store
	svc       *materialsvc.MaterialService
	published *recordingPublisher
	work      *stubUnitOfWork
	opened    int
	soID      string
}

func newTxFixture(t *testing.T, configure func(*stubUnitOfWork, *memory.Store)) *txFixture {
	t.Helper()

	store := memory.NewStore()
	f := &txFixture{store: store, published: &recordingPublisher{}, soID: uuid.NewString()}
	store.AddServiceOrder(serviceorder.ServiceOrder{ID: f.soID})
	f.work = &stubUnitOfWork{orders: store.MaterialOrders(), outbox: store.Outbox()}
	if configure != nil {
		configure(f.work, store)
	}

	stager := events.NewPublisher(nil, store.Outbox(), "materials.events", 3, time.Second)
	f.svc = materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(store.MaterialOrders()),
		materialsvc.WithResolver(resolver.New(store.ServiceOrders())),
		materialsvc.WithEventPublisher(f.published),
		materialsvc.WithTransactionalOutbox(func() materialsvc.UnitOfWork {
			f.opened++
			return f.work
		}, stager),
	)

	return f
}

func (f *txFixture) upsert(ctx context.Context) (materialsvc.UpsertResult, error) {
	return f.svc.Upsert(ctx, materialsvc.UpsertRequest{
		ServiceOrderID: f.soID,
		OrderType:      "Rental",
		Items:          []orderitem.OrderItem{item("A", "2", "5")},
	})
}

func TestTransactionalOutboxCommitsOrderAndEventTogether(t *testing.T) {
	t.Parallel()

	f := newTxFixture(t, nil)
	ctx := context.Background()

	res, err := f.upsert(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"begin", "commit", "rollback"}, f.work.log)

	msgs, err := f.store.Outbox().GetPendingMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "material_order.created", msgs[0].RoutingKey)
	require.Equal(t, "materials.events", msgs[0].ExchangeName)
	require.Contains(t, string(msgs[0].Payload), res.OrderID)
	require.Empty(t, f.published.types(), "delivery is left to the outbox worker")
}

func TestTransactionalOutboxStageFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := newTxFixture(t, func(w *stubUnitOfWork, store *memory.Store) {
		w.outbox = failingOutbox{OutboxRepository: store.Outbox()}
	})

	_, err := f.upsert(context.Background())
	require.ErrorIs(t, err, errs.ErrStore)
	require.Contains(t, err.Error(), "write rolled back")
	require.False(t, errs.Changed(err))
	require.Equal(t, []string{"begin", "rollback"}, f.work.log)
	require.Empty(t, f.published.types())
}

func TestTransactionalOutboxCommitFailureIsOutcomeUnknown(t *testing.T) {
	t.Parallel()

	f := newTxFixture(t, func(w *stubUnitOfWork, _ *memory.Store) {
		w.commitErr = errs.Store("commit", errors.New("connection lost"))
	})

	_, err := f.upsert(context.Background())
	require.ErrorIs(t, err, errs.ErrOutcomeUnknown)
	require.True(t, errs.Changed(err))
	require.Equal(t, "store", errs.Kind(err))
	require.Empty(t, f.published.types())
}

func TestTransactionalOutboxSkipsNoOpWrites(t *testing.T) {
	t.Parallel()

	f := newTxFixture(t, nil)
	ctx := context.Background()
	res, err := f.upsert(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.opened)

	require.NoError(t, f.svc.DeleteItem(ctx, res.OrderID, "MISSING"))
	require.NoError(t, f.svc.DeleteItem(ctx, uuid.NewString(), "A"))
	require.Equal(t, 1, f.opened, "no-op deletes open no transaction")
}
