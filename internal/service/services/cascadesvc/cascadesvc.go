package cascadesvc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/icascaderepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ieventrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/iserviceorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	"github.com/corray333/backend-labs/materials/internal/dal/uow"
	"github.com/corray333/backend-labs/materials/internal/service/errs"
	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
)

// ServiceOrdersTable names the final step of every cascade.
const ServiceOrdersTable = "service_orders"

const checkpointsTable = "cascade_checkpoints"

const defaultBulkConcurrency = 4

// UnitOfWork runs the repositories of one cascade in a store transaction.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	DependentRepository() icascaderepo.IDependentRepository
	ServiceOrderRepository() iserviceorderrepo.IServiceOrderRepository
}

type identifierResolver interface {
	Resolve(ctx context.Context, identifier string) (string, error)
}

// CascadeService deletes service orders together with every dependent row.
type CascadeService struct {
	resolver        identifierResolver
	serviceOrders   iserviceorderrepo.IServiceOrderRepository
	dependents      icascaderepo.IDependentRepository
	checkpoints     icascaderepo.ICheckpointRepository
	newUOW          func() UnitOfWork
	publisher       ieventrepo.IEventPublisher
	tables          []cascade.DependentTable
	mode            cascade.Mode
	policy          storecall.Policy
	bulkConcurrency int
	now             func() time.Time
	tracer          trace.Tracer
}

// option is a function that configures the CascadeService.
type option func(*CascadeService)

// MustNewCascadeService creates a new CascadeService.
func MustNewCascadeService(opts ...option) *CascadeService {
	s := &CascadeService{
		tables:          cascade.DefaultTables(),
		mode:            cascade.ModeAuto,
		policy:          storecall.DefaultPolicy(),
		bulkConcurrency: defaultBulkConcurrency,
		now:             time.Now,
		tracer:          otel.Tracer("materials-svc"),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.resolver == nil:
		panic("cascadesvc: identifier resolver is required")
	case s.serviceOrders == nil || s.dependents == nil:
		panic("cascadesvc: service order and dependent repositories are required")
	case s.mode == cascade.ModeTransactional && s.newUOW == nil:
		panic("cascadesvc: transactional mode: " + errs.ErrTxUnsupported.Error())
	case s.effectiveMode() == cascade.ModeCheckpointed && s.checkpoints == nil:
		panic("cascadesvc: checkpointed mode requires a checkpoint repository")
	}
	for _, t := range s.tables {
		if err := t.Validate(); err != nil {
			panic("cascadesvc: " + err.Error())
		}
	}

	return s
}

// WithResolver sets the service order identifier resolver.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithResolver(r identifierResolver) option {
	return func(s *CascadeService) {
		s.resolver = r
	}
}

// WithRepositories sets the non-transactional repositories.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithRepositories(
	serviceOrders iserviceorderrepo.IServiceOrderRepository,
	dependents icascaderepo.IDependentRepository,
	checkpoints icascaderepo.ICheckpointRepository,
) option {
	return func(s *CascadeService) {
		s.serviceOrders = serviceOrders
		s.dependents = dependents
		s.checkpoints = checkpoints
	}
}

// WithUnitOfWork enables transactional cascades with units of work from newUOW.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWork(newUOW func() UnitOfWork) option {
	return func(s *CascadeService) {
		s.newUOW = newUOW
	}
}

// WithPostgresClient enables transactional cascades on the Postgres client.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return WithUnitOfWork(func() UnitOfWork {
		return uow.NewUnitOfWork(pgClient)
	})
}

// WithEventPublisher sets the domain event publisher.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventPublisher(p ieventrepo.IEventPublisher) option {
	return func(s *CascadeService) {
		s.publisher = p
	}
}

// WithTables sets the dependent tables in deletion order.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTables(tables []cascade.DependentTable) option {
	return func(s *CascadeService) {
		if len(tables) > 0 {
			s.tables = append([]cascade.DependentTable(nil), tables...)
		}
	}
}

// WithMode sets the cascade mode.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMode(mode cascade.Mode) option {
	return func(s *CascadeService) {
		s.mode = mode
	}
}

// WithStorePolicy sets the store call timeout and read retries.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStorePolicy(p storecall.Policy) option {
	return func(s *CascadeService) {
		s.policy = p
	}
}

// WithBulkConcurrency bounds how many ids a bulk deletion processes at once.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithBulkConcurrency(n int) option {
	return func(s *CascadeService) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

// Mode returns the mode cascades actually run in.
func (s *CascadeService) Mode() cascade.Mode {
	return s.effectiveMode()
}

func (s *CascadeService) effectiveMode() cascade.Mode {
	if s.mode != cascade.ModeAuto {
		return s.mode
	}
	if s.newUOW != nil {
		return cascade.ModeTransactional
	}

	return cascade.ModeCheckpointed
}

func (s *CascadeService) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := s.tracer.Start(ctx, "cascadesvc."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, errs.Kind(err))
		}
		span.End()
	}
}
