package materialsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ieventrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/imaterialorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	"github.com/corray333/backend-labs/materials/internal/dal/uow"
	"github.com/corray333/backend-labs/materials/internal/metrics"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

const (
	defaultMaxAttempts = 5
	defaultBaseBackoff = 10 * time.Millisecond
	defaultMaxBackoff  = 200 * time.Millisecond
)

type identifierResolver interface {
	Resolve(ctx context.Context, identifier string) (string, error)
	ResolveExisting(ctx context.Context, identifier string) (string, error)
}

// UnitOfWork runs an order write and its outbox row in one store transaction.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	MaterialOrderRepository() imaterialorderrepo.IMaterialOrderRepository
	OutboxRepository() ioutboxrepo.IOutboxRepository
}

// OutboxStager writes an event to the given outbox for later delivery.
type OutboxStager interface {
	Stage(ctx context.Context, outbox ioutboxrepo.IOutboxRepository, evt event.Event) error
}

// MaterialService mutates material orders. Every write goes through mutate, which
// conditions it on the version that was read and retries lost races.
type MaterialService struct {
	orders      imaterialorderrepo.IMaterialOrderRepository
	resolver    identifierResolver
	publisher   ieventrepo.IEventPublisher
	newUOW      func() UnitOfWork
	stager      OutboxStager
	policy      storecall.Policy
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	totalPolicy materialorder.TotalPolicy
	now         func() time.Time
	newID       func() string
	tracer      trace.Tracer
}

// option is a function that configures the MaterialService.
type option func(*MaterialService)

// MustNewMaterialService creates a new MaterialService.
func MustNewMaterialService(opts ...option) *MaterialService {
	s := &MaterialService{
		policy:      storecall.DefaultPolicy(),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		totalPolicy: materialorder.TotalPolicyRecompute,
		now:         time.Now,
		newID:       uuid.NewString,
		tracer:      otel.Tracer("materials-svc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orders == nil {
		panic("materialsvc: order repository is required")
	}
	if s.resolver == nil {
		panic("materialsvc: identifier resolver is required")
	}
	if s.newUOW != nil && s.stager == nil {
		panic("materialsvc: transactional outbox requires an outbox stager")
	}

	return s
}

// WithOrderRepository sets the material order repository.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderRepository(repo imaterialorderrepo.IMaterialOrderRepository) option {
	return func(s *MaterialService) {
		s.orders = repo
	}
}

// WithResolver sets the service order identifier resolver.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithResolver(r identifierResolver) option {
	return func(s *MaterialService) {
		s.resolver = r
	}
}

// WithEventPublisher sets the domain event publisher.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventPublisher(p ieventrepo.IEventPublisher) option {
	return func(s *MaterialService) {
		s.publisher = p
	}
}

// WithTransactionalOutbox writes every order change and its event in one unit of
// work from newUOW. Events are then delivered by the outbox worker only.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTransactionalOutbox(newUOW func() UnitOfWork, stager OutboxStager) option {
	return func(s *MaterialService) {
		s.newUOW = newUOW
		s.stager = stager
	}
}

// WithPostgresOutbox enables the transactional outbox on the Postgres client.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresOutbox(pgClient *postgres.Client, stager OutboxStager) option {
	return WithTransactionalOutbox(func() UnitOfWork {
		return uow.NewUnitOfWork(pgClient)
	}, stager)
}

// WithStorePolicy sets the store call timeout and read retries.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStorePolicy(p storecall.Policy) option {
	return func(s *MaterialService) {
		s.policy = p
	}
}

// WithRetry sets the optimistic-concurrency attempt limit and backoff bounds.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithRetry(maxAttempts int, base, maxBackoff time.Duration) option {
	return func(s *MaterialService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if base >= 0 {
			s.baseBackoff = base
		}
		if maxBackoff >= 0 {
			s.maxBackoff = maxBackoff
		}
	}
}

// WithTotalPolicy selects whether field updates rewrite the aggregate total.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTotalPolicy(p materialorder.TotalPolicy) option {
	return func(s *MaterialService) {
		s.totalPolicy = p
	}
}

// WithClock overrides the time source.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *MaterialService) {
		s.now = now
	}
}

// TotalPolicy returns the configured field update total policy.
func (s *MaterialService) TotalPolicy() materialorder.TotalPolicy {
	return s.totalPolicy
}

type writeKind int

const (
	writeNone writeKind = iota
	writeInsert
	writeUpdate
	writeDelete
)

// plan is the write a mutation wants applied to the state it read.
type plan struct {
	kind  writeKind
	order materialorder.MaterialOrder
}

// loadFunc reads the current state. A nil order means there is none yet.
type loadFunc func(ctx context.Context) (*materialorder.MaterialOrder, error)

// applyFunc derives the write from the current state. It must not modify current.
type applyFunc func(current *materialorder.MaterialOrder) (plan, error)

// describeFunc builds the event of a successful write. Nil emits nothing.
type describeFunc func(written materialorder.MaterialOrder, p plan) *event.Event

// mutate runs read, apply and a version-conditioned write. A write that loses the
// race, including an insert beaten by another pending order and an update of a row
// deleted meanwhile, restarts from a fresh read after a jittered backoff. After
// maxAttempts lost races it fails with errs.ErrConcurrentModification. Writes are
// never retried on ErrStore.
//
// The event of the write is staged in the same transaction when a transactional
// outbox is configured and published after the write otherwise.
func (s *MaterialService) mutate(
	ctx context.Context,
	op string,
	load loadFunc,
	apply applyFunc,
	describe describeFunc,
) (materialorder.MaterialOrder, plan, error) {
	var (
		written materialorder.MaterialOrder
		p       plan
		evt     *event.Event
		attempt int
		lost    bool
	)
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		lost = false

		current, err := load(ctx)
		if err != nil {
			return err
		}
		p, err = apply(current)
		if err != nil {
			return err
		}

		if s.newUOW != nil {
			written, evt, err = s.writeInTransaction(ctx, current, p, describe)
		} else {
			written, err = s.write(ctx, s.orders, current, p)
			if err == nil {
				evt = describe(written, p)
			}
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrStaleVersion) && !(current != nil && errors.Is(err, errs.ErrNotFound)) {
			if s.newUOW == nil {
				// A single statement that failed in the store may still have been applied.
				return errs.Uncertain(err)
			}

			return err
		}

		lost = true
		metrics.RecordVersionConflict(op)
		slog.DebugContext(ctx, "Write lost a concurrent modification race", "op", op, "attempt", attempt, "error", err)

		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
	case lost && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return materialorder.MaterialOrder{}, plan{}, errs.Store(op+".backoff", err)
	case lost:
		slog.WarnContext(ctx, "Concurrent modification retries exhausted", "op", op, "attempts", attempt, "error", err)

		return materialorder.MaterialOrder{}, plan{}, errs.ErrConcurrentModification
	default:
		return materialorder.MaterialOrder{}, plan{}, err
	}

	if s.newUOW == nil {
		s.publish(ctx, evt)
	}

	return written, p, nil
}

// backoff allows maxAttempts attempts, waiting baseBackoff doubled per lost race
// and capped at maxBackoff, plus or minus half of baseBackoff.
func (s *MaterialService) backoff() retry.Backoff {
	base := s.baseBackoff
	if base <= 0 {
		base = time.Nanosecond
	}

	b := retry.NewExponential(base)
	if jitter := base / 2; jitter > 0 {
		b = retry.WithJitter(jitter, b)
	}
	if s.maxBackoff > 0 {
		b = retry.WithCappedDuration(s.maxBackoff, b)
	}

	return retry.WithMaxRetries(uint64(s.maxAttempts-1), b)
}

func (s *MaterialService) write(
	ctx context.Context,
	orders imaterialorderrepo.IMaterialOrderRepository,
	current *materialorder.MaterialOrder,
	p plan,
) (materialorder.MaterialOrder, error) {
	switch p.kind {
	case writeInsert:
		return storecall.Do(ctx, s.policy, "material_orders.insert", func(ctx context.Context) (materialorder.MaterialOrder, error) {
			return orders.Insert(ctx, p.order)
		})
	case writeUpdate:
		return storecall.Do(ctx, s.policy, "material_orders.update", func(ctx context.Context) (materialorder.MaterialOrder, error) {
			return orders.UpdateVersioned(ctx, p.order, current.Version)
		})
	case writeDelete:
		err := storecall.Exec(ctx, s.policy, "material_orders.delete", func(ctx context.Context) error {
			return orders.DeleteVersioned(ctx, current.ID, current.Version)
		})

		return p.order, err
	default:
		return p.order, nil
	}
}

// writeInTransaction applies p and stages its event in one transaction. Everything
// before the commit is rolled back on failure. A failed commit is outcome-unknown.
func (s *MaterialService) writeInTransaction(
	ctx context.Context,
	current *materialorder.MaterialOrder,
	p plan,
	describe describeFunc,
) (materialorder.MaterialOrder, *event.Event, error) {
	if p.kind == writeNone {
		return p.order, nil, nil
	}

	work := s.newUOW()
	if err := storecall.Exec(ctx, s.policy, "material_orders.begin", work.Begin); err != nil {
		return materialorder.MaterialOrder{}, nil, err
	}
	defer func() {
		if err := work.Rollback(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "Material order rollback failed", "order_id", p.order.ID, "error", err)
		}
	}()

	written, err := s.write(ctx, work.MaterialOrderRepository(), current, p)
	if err != nil {
		return materialorder.MaterialOrder{}, nil, err
	}

	evt := describe(written, p)
	if evt != nil {
		err := storecall.Exec(ctx, s.policy, "outbox.insert", func(ctx context.Context) error {
			return s.stager.Stage(ctx, work.OutboxRepository(), *evt)
		})
		if err != nil {
			return materialorder.MaterialOrder{}, nil, fmt.Errorf("failed to stage %s event, write rolled back: %w", evt.Type, err)
		}
	}

	if err := storecall.Exec(ctx, s.policy, "material_orders.commit", work.Commit); err != nil {
		if uncertain := errs.Uncertain(err); errs.Changed(uncertain) {
			return materialorder.MaterialOrder{}, nil, fmt.Errorf("commit of material order %s: %w", p.order.ID, uncertain)
		}

		return materialorder.MaterialOrder{}, nil, err
	}

	return written, evt, nil
}

// getOrder is the load step for operations addressed by order id.
func (s *MaterialService) getOrder(orderID string) loadFunc {
	return func(ctx context.Context) (*materialorder.MaterialOrder, error) {
		o, err := storecall.Read(ctx, s.policy, "material_orders.get", func(ctx context.Context) (materialorder.MaterialOrder, error) {
			return s.orders.Get(ctx, orderID)
		})
		if err != nil {
			return nil, err
		}

		return &o, nil
	}
}

// newEvent builds a domain event about the order aggregateID.
func (s *MaterialService) newEvent(typ event.Type, aggregateID string, data any) *event.Event {
	return &event.Event{
		ID:          uuid.NewString(),
		Type:        typ,
		AggregateID: aggregateID,
		OccurredAt:  s.now().UTC(),
		Data:        data,
	}
}

func (s *MaterialService) publish(ctx context.Context, evt *event.Event) {
	if s.publisher == nil || evt == nil {
		return
	}
	if err := s.publisher.Publish(ctx, *evt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish domain event", "event_type", evt.Type, "aggregate_id", evt.AggregateID, "error", err)
	}
}

// start opens the span of a service operation.
func (s *MaterialService) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "materialsvc."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		kind := errs.Kind(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
		metrics.RecordOperation(op, kind, started)
	}
}
