package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lustreworks/fulfillment-api/internal/di"
	"github.com/lustreworks/fulfillment-api/internal/handlers"
	"github.com/lustreworks/fulfillment-api/internal/payments"
	"github.com/lustreworks/fulfillment-api/internal/platform/config"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/platform/idempotency"
	"github.com/lustreworks/fulfillment-api/internal/platform/jobs"
	"github.com/lustreworks/fulfillment-api/internal/platform/observability"
	"github.com/lustreworks/fulfillment-api/internal/platform/secrets"
	platformstorage "github.com/lustreworks/fulfillment-api/internal/platform/storage"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
	firestoreRepo "github.com/lustreworks/fulfillment-api/internal/repositories/firestore"
)

const instrumentationName = "github.com/lustreworks/fulfillment-api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	meter := otel.Meter(instrumentationName)
	tracer := otel.Tracer(instrumentationName)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretsProjectFromEnv()),
		secrets.WithMeter(meter),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	integrations := di.Integrations{
		Logger: observability.EventLogger(logger.Named("fulfillment")),
		Tracer: tracer,
		Meter:  meter,
	}
	checks := []repositories.DependencyCheck{
		{Name: "firestore", Check: registry.Ping},
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	topic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	defer topic.Stop()
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	integrations.Events = publisher
	checks = append(checks, repositories.DependencyCheck{
		Name:     "pubsub",
		Optional: true,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	})

	if bucket := strings.TrimSpace(cfg.Storage.ConfirmationsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		archive, err := platformstorage.NewConfirmationArchive(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise confirmation archive", zap.Error(err))
		}
		integrations.Archive = archive
		checks = append(checks, repositories.DependencyCheck{
			Name:     "storage",
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	} else {
		logger.Warn("confirmation archive disabled; API_STORAGE_CONFIRMATIONS_BUCKET is empty")
	}

	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		deposits, err := payments.NewStripeDepositCollector(payments.StripeDepositConfig{
			APIKey: key,
			Logger: payments.StripeLogger(observability.EventLogger(logger.Named("payments"))),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe deposits", zap.Error(err))
		}
		integrations.Deposits = deposits
	} else {
		logger.Warn("card deposits disabled; API_PSP_STRIPE_API_KEY is empty")
	}

	container, err := di.NewContainer(ctx, cfg, registry, integrations)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	readiness, err := repositories.NewReadinessProbe(checks)
	if err != nil {
		logger.Fatal("failed to initialise readiness probe", zap.Error(err))
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		handlers.ActorMiddleware,
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		handlers.WithReadinessProbe(readiness),
	)
	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	fulfillmentHandlers := handlers.NewFulfillmentHandlers(container.Services.Fulfillment,
		handlers.WithActorRateLimit(cfg.Server.ActorRateLimit, time.Minute),
		handlers.WithOrderIdempotency(idempotency.Middleware(idempotencyStore,
			idempotency.WithTTL(cfg.Server.IdempotencyTTL),
			idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
		)),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithFulfillmentRoutes(fulfillmentHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// secretsProjectFromEnv picks the Secret Manager project before configuration is loaded, since
// loading configuration may itself need secrets.
func secretsProjectFromEnv() string {
	for _, key := range []string{"API_SECRETS_PROJECT_ID", "API_FIRESTORE_PROJECT_ID"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
