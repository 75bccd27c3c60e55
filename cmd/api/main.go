package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inbox_backend/internal/adapters/identitycache"
	"inbox_backend/internal/adapters/storage"
	"inbox_backend/internal/events"
	"inbox_backend/internal/gateway"
	apphttp "inbox_backend/internal/http"
	"inbox_backend/internal/http/router"
	"inbox_backend/internal/inbox"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/internal/media"
	"inbox_backend/internal/notification"
	"inbox_backend/internal/scheduler"
	"inbox_backend/internal/webhook"
	"inbox_backend/migrations"
	"inbox_backend/platform/config"
	"inbox_backend/platform/db"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 3, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	storageSvc := initStorage(ctx, cfg, log)
	identityCache, closeCache := initIdentityCache(cfg, log)
	if closeCache != nil {
		defer closeCache()
	}
	automation, closeAutomation := initAutomation(cfg, log)
	if closeAutomation != nil {
		defer closeAutomation()
	}
	publisher, closePublisher := initPublisher(ctx, cfg, log)
	if closePublisher != nil {
		defer closePublisher()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	notification.New(publisher, automation, cfg.GetBrokerPublishTimeout(), log).RegisterHandlers(eventBus)

	gatewayClient := gateway.NewClient(cfg, log)
	mediaPipeline := media.NewPipeline(gatewayClient, storageSvc, cfg.GetMinioBucketInboxMedia(), cfg.GetStorageTimeout(), log)

	store := repository.New(pool)
	inboxModule := inbox.NewModule(store, inbox.Deps{
		Contacts:      gatewayClient,
		Media:         mediaPipeline,
		Storage:       storageSvc,
		EventBus:      eventBus,
		LookupTimeout: gatewayClient.LookupTimeout(),
	}, log)

	identity := webhook.NewIdentityResolver(gatewayClient, identityCache, gatewayClient.LookupTimeout(), log)
	webhookModule := webhook.NewModule(inboxModule.Instances(), inboxModule.Messages(), identity, val, cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   store,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			webhookModule,
			inboxModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	// Let in-flight event handlers finish before their sinks close.
	if err := eventBus.Wait(shutdownCtx); err != nil {
		log.Warn("event handlers still running at shutdown", "error", err)
	}
	log.Info("server stopped")
}

// initStorage returns nil when MinIO is not configured; media is then
// recorded by reference only.
func initStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) storage.StorageService {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; media uploads disabled")
		return nil
	}
	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	bucket := cfg.GetMinioBucketInboxMedia()
	if err := withRetry(ctx, log, "ensure inbox media bucket", 5, 2*time.Second, func() error {
		return svc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("storage service initialized", "bucket", bucket)
	return svc
}

func initIdentityCache(cfg config.IdentityCacheConfig, log *logger.Logger) (webhook.IdentityCache, func()) {
	if !cfg.IsIdentityCacheEnabled() {
		log.Warn("REDIS_URL not configured; privacy-id cache disabled")
		return nil, nil
	}
	cache, err := identitycache.New(cfg)
	if err != nil {
		log.Error("failed to initialize identity cache", "error", err)
		return nil, nil
	}
	return cache, func() { _ = cache.Close() }
}

func initAutomation(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.AutomationEnqueuer, func()) {
	if !cfg.IsSchedulerEnabled() {
		log.Warn("REDIS_URL not configured; automation hand-off disabled")
		return nil, nil
	}
	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize automation client", "error", err)
		return nil, nil
	}
	return client, func() { _ = client.Close() }
}

func initPublisher(ctx context.Context, cfg config.BrokerConfig, log *logger.Logger) (notification.Publisher, func()) {
	if !cfg.IsBrokerEnabled() {
		log.Warn("AMQP_URL not configured; broker publishing disabled")
		return nil, nil
	}
	pub, err := notification.NewAMQPPublisher(ctx, cfg.GetAMQPURL(), cfg.GetBrokerExchange(), log)
	if err != nil {
		log.Error("failed to initialize broker publisher", "error", err)
		return nil, nil
	}
	log.Info("broker publisher initialized", "exchange", cfg.GetBrokerExchange())
	return pub, func() { _ = pub.Close() }
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
