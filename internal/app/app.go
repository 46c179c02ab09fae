package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/backend-labs/materials/internal/config"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/icascaderepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ieventrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/imaterialorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/iserviceorderrepo"
	"github.com/corray333/backend-labs/materials/internal/dal/postgres"
	"github.com/corray333/backend-labs/materials/internal/dal/rabbitmq"
	cascaderepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/cascade/postgres"
	"github.com/corray333/backend-labs/materials/internal/dal/repositories/events"
	materialorderrepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/materialorder/postgres"
	"github.com/corray333/backend-labs/materials/internal/dal/repositories/memory"
	outboxrepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/outbox/postgres"
	serviceorderrepo "github.com/corray333/backend-labs/materials/internal/dal/repositories/serviceorder/postgres"
	"github.com/corray333/backend-labs/materials/internal/otel"
	"github.com/corray333/backend-labs/materials/internal/service/services/cascadesvc"
	"github.com/corray333/backend-labs/materials/internal/service/services/materialsvc"
	"github.com/corray333/backend-labs/materials/internal/service/services/resolver"
	"github.com/corray333/backend-labs/materials/internal/service/services/storecall"
	grpctransport "github.com/corray333/backend-labs/materials/internal/transport/grpc"
	httptransport "github.com/corray333/backend-labs/materials/internal/transport/http"
	"github.com/corray333/backend-labs/materials/internal/worker/outbox"
)

// App represents the application.
type App struct {
	materialSvc    *materialsvc.MaterialService
	cascadeSvc     *cascadesvc.CascadeService
	transport      *httptransport.HTTPTransport
	grpcTransport  *grpctransport.GRPCTransport
	postgresClient *postgres.Client
	rabbitClient   *rabbitmq.Client
	outboxWorker   *outbox.Worker
	otel           *otel.OtelController
}

// repositories are the store adapters of one storage driver.
type repositories struct {
	orders        imaterialorderrepo.IMaterialOrderRepository
	serviceOrders iserviceorderrepo.IServiceOrderRepository
	dependents    icascaderepo.IDependentRepository
	checkpoints   icascaderepo.ICheckpointRepository
	outbox        ioutboxrepo.IOutboxRepository
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	settings := config.MustLoad()
	a := &App{otel: otel.MustInitOtel()}

	var repos repositories

	switch settings.StorageDriver {
	case config.DriverMemory:
		slog.Warn("Using the in-memory store, data is lost on restart")
		store := memory.NewStore()
		repos = repositories{
			orders:        store.MaterialOrders(),
			serviceOrders: store.ServiceOrders(),
			dependents:    store.Dependents(),
			checkpoints:   store.Checkpoints(),
			outbox:        store.Outbox(),
		}
	default:
		a.postgresClient = postgres.MustNewClient()
		pool := a.postgresClient.Pool()
		repos = repositories{
			orders:        materialorderrepo.NewPostgresMaterialOrderRepository(pool),
			serviceOrders: serviceorderrepo.NewPostgresServiceOrderRepository(pool),
			dependents:    cascaderepo.NewPostgresDependentRepository(pool),
			checkpoints:   cascaderepo.NewPostgresCheckpointRepository(pool),
			outbox:        outboxrepo.NewOutboxRepository(pool),
		}
	}

	var (
		publisher       ieventrepo.IEventPublisher = events.LogPublisher{}
		brokerPublisher *events.Publisher
	)
	if settings.RabbitMQEnabled {
		a.rabbitClient = rabbitmq.MustNewClient()
		if err := a.rabbitClient.DeclareExchange(rabbitmq.DeclareExchangeConfig{
			Name:    settings.Exchange,
			Durable: true,
		}); err != nil {
			panic("failed to declare exchange: " + err.Error())
		}
		brokerPublisher = events.NewPublisher(
			a.rabbitClient,
			repos.outbox,
			settings.Exchange,
			settings.OutboxMaxRetries,
			settings.PublishTimeout,
		)
		publisher = brokerPublisher
		a.outboxWorker = outbox.NewWorker(repos.outbox, a.rabbitClient)
	}

	policy := storecall.Policy{Timeout: settings.StoreTimeout, ReadRetries: settings.ReadRetries}
	idResolver := resolver.New(repos.serviceOrders, resolver.WithPolicy(policy))

	// Order events share the write's transaction when both Postgres and the broker
	// are in use. The outbox worker then delivers every one of them.
	withOutbox := materialsvc.WithTransactionalOutbox(nil, nil)
	if a.postgresClient != nil && brokerPublisher != nil {
		withOutbox = materialsvc.WithPostgresOutbox(a.postgresClient, brokerPublisher)
	}
	a.materialSvc = materialsvc.MustNewMaterialService(
		materialsvc.WithOrderRepository(repos.orders),
		materialsvc.WithResolver(idResolver),
		materialsvc.WithEventPublisher(publisher),
		withOutbox,
		materialsvc.WithStorePolicy(policy),
		materialsvc.WithRetry(settings.MaxAttempts, settings.BaseBackoff, settings.MaxBackoff),
		materialsvc.WithTotalPolicy(settings.TotalPolicy),
	)

	// The in-memory store has no transactions, auto mode falls back to checkpoints there.
	withTx := cascadesvc.WithUnitOfWork(nil)
	if a.postgresClient != nil {
		withTx = cascadesvc.WithPostgresClient(a.postgresClient)
	}
	a.cascadeSvc = cascadesvc.MustNewCascadeService(
		cascadesvc.WithResolver(idResolver),
		cascadesvc.WithRepositories(repos.serviceOrders, repos.dependents, repos.checkpoints),
		withTx,
		cascadesvc.WithEventPublisher(publisher),
		cascadesvc.WithTables(settings.CascadeTables),
		cascadesvc.WithMode(settings.CascadeMode),
		cascadesvc.WithStorePolicy(policy),
		cascadesvc.WithBulkConcurrency(settings.BulkConcurrency),
	)

	slog.Info("Services configured",
		"storage", settings.StorageDriver,
		"cascade_mode", a.cascadeSvc.Mode(),
		"total_policy", a.materialSvc.TotalPolicy(),
		"rabbitmq", settings.RabbitMQEnabled,
		"transactional_outbox", a.postgresClient != nil && brokerPublisher != nil,
	)

	a.transport = httptransport.NewHTTPTransport(a.materialSvc, a.cascadeSvc)
	a.transport.RegisterRoutes()
	a.grpcTransport = grpctransport.NewGRPCTransport()

	return a
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		if err := a.grpcTransport.Run(); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	if a.outboxWorker != nil {
		go a.outboxWorker.Start(workerCtx)
	}

	<-stop
	slog.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.grpcTransport.SetServing(false)

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.grpcTransport.Shutdown(ctx); err != nil {
		slog.Error("gRPC server shutdown error", "error", err)
	} else {
		slog.Info("gRPC server stopped gracefully")
	}

	if a.outboxWorker != nil {
		a.outboxWorker.Stop()
	}
	cancelWorkers()

	if a.rabbitClient != nil {
		if err := a.rabbitClient.Close(); err != nil {
			slog.Error("RabbitMQ connection close error", "error", err)
		} else {
			slog.Info("RabbitMQ connection closed gracefully")
		}
	}

	if a.postgresClient != nil {
		a.postgresClient.Close()
		slog.Info("Database connection closed")
	}

	if err := a.otel.Shutdown(); err != nil {
		slog.Error("Tracer provider shutdown error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
