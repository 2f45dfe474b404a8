package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/hangerworks/api/internal/di"
	"github.com/hangerworks/api/internal/handlers"
	"github.com/hangerworks/api/internal/platform/auth"
	"github.com/hangerworks/api/internal/platform/bus"
	"github.com/hangerworks/api/internal/platform/config"
	"github.com/hangerworks/api/internal/platform/events"
	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
	"github.com/hangerworks/api/internal/platform/idempotency"
	"github.com/hangerworks/api/internal/platform/notify"
	"github.com/hangerworks/api/internal/platform/observability"
	"github.com/hangerworks/api/internal/platform/secrets"
	platformstorage "github.com/hangerworks/api/internal/platform/storage"
	firestoreRepo "github.com/hangerworks/api/internal/repositories/firestore"
	"github.com/hangerworks/api/internal/services"
)

func main() {
	ctx := context.Background()

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

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Auth.SigningSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
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

	publisher, err := events.NewPubSubPublisher(
		pubsubClient.Topic(cfg.PubSub.OrderEventsTopic),
		pubsubClient.Topic(cfg.PubSub.PaymentEventsTopic),
	)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	notifier, err := notify.NewPubSubNotifier(pubsubClient.Topic(cfg.PubSub.NotificationsTopic))
	if err != nil {
		logger.Fatal("failed to initialise notifier", zap.Error(err))
	}

	proofVault := newProofVault(logger, cfg)

	verifier, err := auth.NewHMACVerifier([]byte(cfg.Auth.SigningSecret), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}

	changeBus, err := bus.NewFirestoreBus(firestoreProvider, logger.Named("bus"))
	if err != nil {
		logger.Fatal("failed to initialise change bus", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		OrderEvents:   publisher,
		PaymentEvents: publisher,
		Notifier:      notifier,
		Proofs:        proofVault,
		Bus:           changeBus,
		Logger:        logger.Named("services"),
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	orderHandlers := handlers.NewOrderHandlers(verifier, container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(verifier, container.Services.Payments)
	catalogHandlers := handlers.NewCatalogHandlers(verifier, container.Services.Catalog)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildVersion(), buildRevision()),
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
			defer cancel()
			iter := firestoreClient.Collections(checkCtx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
			return nil
		}),
	)

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
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
		serverLogger.Info("hangerworks api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newProofVault builds the signed URL vault when proof storage is configured.
// Payment submission still works without it; only proof links are disabled.
func newProofVault(logger *zap.Logger, cfg config.Config) services.ProofSigner {
	bucket := strings.TrimSpace(cfg.Storage.ProofBucket)
	email := strings.TrimSpace(cfg.Storage.SignerEmail)
	key := strings.TrimSpace(cfg.Storage.SignerKey)
	if bucket == "" || email == "" || key == "" {
		logger.Warn("proof storage not configured; signed proof urls disabled")
		return nil
	}

	signer, err := platformstorage.NewServiceAccountSigner(email, key)
	if err != nil {
		logger.Fatal("failed to parse storage signer key", zap.Error(err))
	}
	vault, err := platformstorage.NewProofVault(bucket, signer, platformstorage.WithURLTTL(cfg.Storage.ProofURLTTL))
	if err != nil {
		logger.Fatal("failed to initialise proof vault", zap.Error(err))
	}
	return vault
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if env := strings.TrimSpace(os.Getenv("HW_ENVIRONMENT")); env != "" {
		opts = append(opts, secrets.WithEnvironment(env))
	}
	if project := strings.TrimSpace(os.Getenv("HW_FIRESTORE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if fallback := strings.TrimSpace(os.Getenv("HW_SECRET_FALLBACK_FILE")); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildVersion() string {
	if v := strings.TrimSpace(os.Getenv("HW_BUILD_VERSION")); v != "" {
		return v
	}
	return "dev"
}

func buildRevision() string {
	return strings.TrimSpace(os.Getenv("HW_BUILD_COMMIT_SHA"))
}
