package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/corray333/backend-labs/materials/internal/service/models/cascade"
	"github.com/corray333/backend-labs/materials/internal/service/models/materialorder"
	"github.com/corray333/backend-labs/materials/pkg/logger"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func MustInit() {
	if err := godotenv.Load("./.env"); err != nil {
		slog.Info("No .env file loaded, using process environment", "error", err)
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/materials-svc")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("MATERIALS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	SetDefaults()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic("error while reading config file: " + err.Error())
		}
		slog.Info("No config file found, using defaults and environment")
	}
	SetupLogger()
}

// SetDefaults registers the default of every key the service reads.
func SetDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("storage.driver", DriverPostgres)
	viper.SetDefault("store.timeout", "5s")
	viper.SetDefault("store.read_retries", 2)
	viper.SetDefault("occ.max_attempts", 5)
	viper.SetDefault("occ.base_backoff", "10ms")
	viper.SetDefault("occ.max_backoff", "200ms")
	viper.SetDefault("materials.field_update_total_policy", string(materialorder.TotalPolicyRecompute))
	viper.SetDefault("cascade.mode", string(cascade.ModeAuto))
	viper.SetDefault("cascade.bulk_concurrency", 4)
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.migrations_path", "./migrations")
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.exchange", "materials.events")
	viper.SetDefault("rabbitmq.publish_timeout", "5s")
	viper.SetDefault("rabbitmq.outbox.max_retries", 10)
	viper.SetDefault("server.http.port", 8080)
	viper.SetDefault("server.http.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.http.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	viper.SetDefault("server.http.cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-Id"})
	viper.SetDefault("server.grpc.port", 9090)
	viper.SetDefault("server.grpc.keepalive.max_connection_idle", 15)
	viper.SetDefault("server.grpc.keepalive.time", 30)
	viper.SetDefault("server.grpc.keepalive.timeout", 10)
	viper.SetDefault("server.grpc.keepalive.min_time", 5)
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaeger_endpoint", "http://jaeger:14268/api/traces")
	viper.SetDefault("tracing.service_name", "materials-svc")
}

func SetupLogger() {
	handler := logger.NewHandler(&slog.HandlerOptions{Level: logger.ParseLevel(viper.GetString("log.level"))})
	log := slog.New(handler)
	slog.SetDefault(log)
}

// Settings are the typed values the services are built from.
type Settings struct {
	StorageDriver    string
	StoreTimeout     time.Duration
	ReadRetries      int
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	TotalPolicy      materialorder.TotalPolicy
	CascadeMode      cascade.Mode
	CascadeTables    []cascade.DependentTable
	BulkConcurrency  int
	RabbitMQEnabled  bool
	Exchange         string
	PublishTimeout   time.Duration
	OutboxMaxRetries int
}

// Load reads Settings from viper and validates them.
func Load() (Settings, error) {
	s := Settings{
		StorageDriver:    strings.ToLower(viper.GetString("storage.driver")),
		StoreTimeout:     viper.GetDuration("store.timeout"),
		ReadRetries:      viper.GetInt("store.read_retries"),
		MaxAttempts:      viper.GetInt("occ.max_attempts"),
		BaseBackoff:      viper.GetDuration("occ.base_backoff"),
		MaxBackoff:       viper.GetDuration("occ.max_backoff"),
		BulkConcurrency:  viper.GetInt("cascade.bulk_concurrency"),
		RabbitMQEnabled:  viper.GetBool("rabbitmq.enabled"),
		Exchange:         viper.GetString("rabbitmq.exchange"),
		PublishTimeout:   viper.GetDuration("rabbitmq.publish_timeout"),
		OutboxMaxRetries: viper.GetInt("rabbitmq.outbox.max_retries"),
	}

	switch s.StorageDriver {
	case DriverPostgres, DriverMemory:
	default:
		return Settings{}, fmt.Errorf("unknown storage driver %q", s.StorageDriver)
	}

	var err error
	if s.TotalPolicy, err = materialorder.ParseTotalPolicy(viper.GetString("materials.field_update_total_policy")); err != nil {
		return Settings{}, err
	}
	if s.CascadeMode, err = cascade.ParseMode(viper.GetString("cascade.mode")); err != nil {
		return Settings{}, err
	}

	s.CascadeTables = cascade.DefaultTables()
	if viper.IsSet("cascade.tables") {
		var tables []cascade.DependentTable
		if err := viper.UnmarshalKey("cascade.tables", &tables); err != nil {
			return Settings{}, fmt.Errorf("failed to read cascade.tables: %w", err)
		}
		if len(tables) == 0 {
			return Settings{}, errors.New("cascade.tables is set but empty")
		}
		s.CascadeTables = tables
	}
	for _, t := range s.CascadeTables {
		if err := t.Validate(); err != nil {
			return Settings{}, err
		}
	}

	return s, nil
}

// MustLoad is Load that panics on invalid configuration.
func MustLoad() Settings {
	s, err := Load()
	if err != nil {
		panic("invalid configuration: " + err.Error())
	}

	return s
}
