package uow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/icascaderepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/imaterialorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/iserviceorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	cascaderepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/cascade/postgres"
	materialorderrepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/materialorder/postgres"
	outboxrepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/outbox/postgres"
	serviceorderrepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/serviceorder/postgres"
)

type unitOfWork struct {
	client            *postgres.Client
	tx                pgx.Tx
	dependentRepo     icascaderepo.IDependentRepository
	serviceOrderRepo  iserviceorderrepo.IServiceOrderRepository
	materialOrderRepo imaterialorderrepo.IMaterialOrderRepository
	outboxRepo        ioutboxrepo.IOutboxRepository
}

// NewUnitOfWork creates a unit of work whose repositories run on the pool until Begin.
func NewUnitOfWork(client *postgres.Client) *unitOfWork {
	return &unitOfWork{
		client:            client,
		dependentRepo:     cascaderepo.NewPostgresDependentRepository(client.Pool()),
		serviceOrderRepo:  serviceorderrepo.NewPostgresServiceOrderRepository(client.Pool()),
		materialOrderRepo: materialorderrepo.NewPostgresMaterialOrderRepository(client.Pool()),
		outboxRepo:        outboxrepo.NewOutboxRepository(client.Pool()),
	}
}

func (u *unitOfWork) DependentRepository() icascaderepo.IDependentRepository {
	return u.dependentRepo
}

func (u *unitOfWork) ServiceOrderRepository() iserviceorderrepo.IServiceOrderRepository {
	return u.serviceOrderRepo
}

func (u *unitOfWork) MaterialOrderRepository() imaterialorderrepo.IMaterialOrderRepository {
	return u.materialOrderRepo
}

func (u *unitOfWork) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return u.outboxRepo
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	tx, err := u.client.Pool().Begin(ctx)
	if err != nil {
		return postgres.WrapError("begin", err)
	}

	u.tx = tx
	// Rebind the repositories to the transaction
	u.dependentRepo = cascaderepo.NewPostgresDependentRepository(tx)
	u.serviceOrderRepo = serviceorderrepo.NewPostgresServiceOrderRepository(tx)
	u.materialOrderRepo = materialorderrepo.NewPostgresMaterialOrderRepository(tx)
	u.outboxRepo = outboxrepo.NewOutboxRepository(tx)

	return nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	return postgres.WrapError("commit", u.tx.Commit(ctx))
}

// Rollback is a no-op after a successful Commit.
func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return postgres.WrapError("rollback", err)
}
