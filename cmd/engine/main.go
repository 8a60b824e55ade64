package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/drivelane/engine/internal/platform/cache"
	"github.com/drivelane/engine/internal/platform/config"
	pfirestore "github.com/drivelane/engine/internal/platform/firestore"
	"github.com/drivelane/engine/internal/platform/jobs"
	"github.com/drivelane/engine/internal/platform/observability"
	firestoreRepo "github.com/drivelane/engine/internal/repositories/firestore"
	"github.com/drivelane/engine/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("engine")
	ctx = observability.WithLogger(ctx, logger)
	events := observability.EventSink(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics, err := observability.NewEngineMetrics()
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	engineCache := buildCache(ctx, logger, cfg)

	serviceRepo, err := firestoreRepo.NewServiceRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise service repository", zap.Error(err))
	}
	ruleRepo, err := firestoreRepo.NewCascadeRuleRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise rule repository", zap.Error(err))
	}
	customerRepo, err := firestoreRepo.NewCustomerRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise customer repository", zap.Error(err))
	}
	vehicleRepo, err := firestoreRepo.NewVehicleRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise vehicle repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	triggerRepo, err := firestoreRepo.NewCascadeTriggerRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise trigger repository", zap.Error(err))
	}
	journeyRepo, err := firestoreRepo.NewJourneyRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise journey repository", zap.Error(err))
	}
	revenueRepo, err := firestoreRepo.NewRevenueMetricsRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise revenue repository", zap.Error(err))
	}

	tables := services.NewPricingTables()
	if err := tables.LoadFile(cfg.Pricing.TablesPath); err != nil {
		// The engine prices at neutral factors until a valid file shows up.
		logger.Warn("pricing tables unavailable, using neutral factors",
			zap.String("path", cfg.Pricing.TablesPath), zap.Error(err))
	}

	ruleIndex, err := services.NewRuleIndex(services.RuleIndexDeps{
		Rules:  ruleRepo,
		Logger: events,
	})
	if err != nil {
		logger.Fatal("failed to initialise rule index", zap.Error(err))
	}
	if err := ruleIndex.Reload(ctx); err != nil {
		logger.Fatal("failed to load cascade rules", zap.Error(err))
	}

	snapshots, err := services.NewCustomerSnapshotProvider(services.CustomerSnapshotProviderDeps{
		Customers: customerRepo,
		Vehicles:  vehicleRepo,
		Orders:    orderRepo,
		Cache:     engineCache,
		TTL:       cfg.Engine.SnapshotTTL,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise snapshot provider", zap.Error(err))
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Services:      serviceRepo,
		Snapshots:     snapshots,
		Tables:        tables,
		AdjustmentCap: cfg.Pricing.AdjustmentCap,
		Logger:        events,
		Metrics:       metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
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

	customerTopic := pubsubClient.Topic(cfg.PubSub.CustomerTopic)
	adminTopic := pubsubClient.Topic(cfg.PubSub.AdminTopic)
	defer customerTopic.Stop()
	defer adminTopic.Stop()

	publisher, err := jobs.NewPubSubNotificationPublisher(customerTopic, adminTopic)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}

	orchestrator, err := services.NewCascadeOrchestrator(services.CascadeOrchestratorDeps{
		Rules:               ruleIndex,
		Snapshots:           snapshots,
		Pricing:             pricing,
		Orders:              orderRepo,
		Triggers:            triggerRepo,
		Journeys:            journeyRepo,
		Revenue:             revenueRepo,
		Publisher:           publisher,
		Counters:            engineCache,
		Metrics:             metrics,
		ActivationThreshold: cfg.Engine.ActivationThreshold,
		MaxCascadeDepth:     cfg.Engine.MaxCascadeDepth,
		TriggerDelay:        cfg.Engine.TriggerDelay,
		PendingExpiry:       cfg.Engine.PendingExpiry,
		IDGen:               func() string { return ulid.Make().String() },
		Logger:              events,
	})
	if err != nil {
		logger.Fatal("failed to initialise cascade orchestrator", zap.Error(err))
	}

	recovered, err := orchestrator.RecoverPending(ctx)
	if err != nil {
		logger.Error("pending trigger recovery failed", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("recovered pending triggers", zap.Int("count", recovered))
	}

	tracker, err := services.NewOutcomeTracker(services.OutcomeTrackerDeps{
		Rules:        ruleRepo,
		Triggers:     triggerRepo,
		Services:     serviceRepo,
		Revenue:      revenueRepo,
		Index:        ruleIndex,
		Interval:     cfg.Outcome.Interval,
		MinSamples:   cfg.Outcome.MinSamples,
		Tolerance:    cfg.Outcome.Tolerance,
		PriceStep:    cfg.Outcome.PriceStep,
		FloorRatio:   cfg.Outcome.PriceFloorRatio,
		CeilingRatio: cfg.Outcome.PriceCeilingRatio,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise outcome tracker", zap.Error(err))
	}
	go tracker.Run(ctx)
	go reloadRulesPeriodically(ctx, ruleIndex, cfg.Engine.RuleCacheTTL, logger)

	subscriber, err := jobs.NewOrderCompletedSubscriber(jobs.OrderCompletedSubscriberDeps{
		Subscription: pubsubClient.Subscription(cfg.PubSub.OrderCompletedSub),
		Cascade:      orchestrator,
		Logger:       events,
		BaseLogger:   logger.Named("subscriber"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order subscriber", zap.Error(err))
	}

	ruleCount, loadedAt := ruleIndex.RuleCount()
	logger.Info("engine started",
		zap.Int("rules", ruleCount),
		zap.Time("rulesLoadedAt", loadedAt),
		zap.String("subscription", cfg.PubSub.OrderCompletedSub))

	if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("subscriber stopped", zap.Error(err))
	}
	logger.Info("engine shut down")
}

func buildCache(ctx context.Context, logger *zap.Logger, cfg config.Config) cache.Cache {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured, using in-process cache")
		return cache.NewMemoryCache()
	}
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
		return cache.NewMemoryCache()
	}
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, falling back to in-process cache", zap.Error(err))
		return cache.NewMemoryCache()
	}
	return redisCache
}

func reloadRulesPeriodically(ctx context.Context, index *services.RuleIndex, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := index.Reload(ctx); err != nil {
				logger.Warn("rule reload failed", zap.Error(err))
			}
		}
	}
}
