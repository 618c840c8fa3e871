package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/fieldsync/cachecore/internal/cache"
	"github.com/fieldsync/cachecore/internal/invalidation"
	"github.com/fieldsync/cachecore/internal/netstatus"
	"github.com/fieldsync/cachecore/internal/notification"
	"github.com/fieldsync/cachecore/internal/origin"
	"github.com/fieldsync/cachecore/internal/platform/aws"
	"github.com/fieldsync/cachecore/internal/platform/config"
	"github.com/fieldsync/cachecore/internal/platform/observability"
	"github.com/fieldsync/cachecore/internal/prefetch"
	"github.com/fieldsync/cachecore/internal/quota"
	"github.com/fieldsync/cachecore/internal/refresh"
	"github.com/fieldsync/cachecore/internal/tabsync"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(os.Getenv("CACHECORE_CONFIG"))

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("cachesyncd", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "cachesyncd", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.LogInfo(ctx, "observability setup complete")

	// Persistent store: Redis by default, DynamoDB when enabled. The
	// Redis connection stays up either way; it also carries the sync
	// channel and the quota usage probe.
	redisStore, err := cache.NewRedisStore(cache.RedisStoreConfig{
		Addr:       cfg.Redis.Address,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		Prefix:     cfg.Cache.Namespace,
		MaxEntries: cfg.Cache.StoreMaxEntries,
		MaxAge:     cfg.Cache.StoreMaxAge,
		Logger:     logger,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create Redis store", err)
		log.Fatalf("Failed to create Redis store: %v", err)
	}
	defer redisStore.Close()

	var store cache.Store = redisStore

	var awsCfg awssdk.Config
	awsNeeded := cfg.Dynamo.Enabled || cfg.AWS.SNSTopicARN != ""
	if awsNeeded {
		awsCfg, err = aws.LoadAWSConfig(ctx, aws.Config{
			Region:   cfg.AWS.Region,
			Endpoint: cfg.AWS.Endpoint,
		})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}
	}

	if cfg.Dynamo.Enabled {
		dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = awssdk.String(cfg.AWS.Endpoint)
			}
		})
		dynamoStore, err := cache.NewDynamoStore(cache.DynamoStoreConfig{
			Client:     dynamoClient,
			TableName:  cfg.Dynamo.TableName,
			MaxEntries: cfg.Cache.StoreMaxEntries,
			MaxAge:     cfg.Cache.StoreMaxAge,
			Logger:     logger,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create Dynamo store", err)
			log.Fatalf("Failed to create Dynamo store: %v", err)
		}
		store = dynamoStore
		logger.LogInfo(ctx, "using DynamoDB persistent store", "table", cfg.Dynamo.TableName)
	}

	// Cache core
	memory := cache.NewMemoryLayer(cfg.Cache.L1MaxSize, nil)
	defer memory.Close()

	universal := cache.NewUniversalCache(cache.UniversalCacheConfig{
		Memory:   memory,
		Store:    store,
		Policies: cache.NewPolicyTableFromConfig(cfg.Policies),
		Logger:   logger,
		Metrics:  metrics,
		Version:  cfg.Cache.SchemaVersion,
	})

	netSignal := netstatus.NewStatic()

	// Cross-process sync
	var manager *tabsync.Manager
	var announcer invalidation.Announcer
	if cfg.Sync.Enabled {
		broadcaster := tabsync.NewRedisBroadcaster(redisStore.Client(), cfg.Sync.Channel, logger)
		manager = tabsync.NewManager(tabsync.ManagerConfig{
			Broadcaster:  broadcaster,
			Logger:       logger,
			Metrics:      metrics,
			PongTimeout:  cfg.Sync.PongTimeout,
			PingInterval: cfg.Sync.PingInterval,
		})
		announcer = manager
	}

	engine := invalidation.NewEngine(invalidation.EngineConfig{
		Cache:     universal,
		Announcer: announcer,
		Logger:    logger,
		Metrics:   metrics,
	})

	if manager != nil {
		manager.On(tabsync.TypeInvalidate, func(ctx context.Context, msg tabsync.Message) {
			var payload tabsync.InvalidatePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				logger.LogWarn(ctx, "malformed invalidate payload", "error", err)
				return
			}
			engine.Invalidate(ctx, payload.Target, invalidation.CauseSync)
		})
		manager.Start(ctx)
		defer manager.Stop()
	}

	scheduler := invalidation.NewScheduler(invalidation.SchedulerConfig{
		Engine:        engine,
		Logger:        logger,
		BusinessHours: cfg.BusinessHours,
	})
	for _, rule := range cfg.Invalidation.Rules {
		scheduler.Schedule(rule.Entity, rule.Interval, rule.BusinessHoursOnly)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Background refresh
	refresher := refresh.NewRefresher(refresh.RefresherConfig{
		Cache:        universal,
		Signal:       netSignal,
		Logger:       logger,
		Metrics:      metrics,
		TickInterval: cfg.Refresh.TickInterval,
		MaxPerTick:   cfg.Refresh.MaxPerTick,
	})
	refresher.Start(ctx)
	defer refresher.Stop()

	// Origin fetchers feed the refresher's warm list and the prefetch
	// strategy. Without a configured origin both stay passive.
	keys := cache.NewFactory(cfg.Cache.Namespace, cfg.Cache.SchemaVersion)

	var source *origin.Client
	if cfg.Origin.BaseURL != "" {
		source = origin.NewClient(origin.ClientConfig{
			BaseURL: cfg.Origin.BaseURL,
			Timeout: cfg.Origin.Timeout,
			Logger:  logger,
		})
		for _, entity := range cfg.Refresh.Entities {
			key := keys.List(entity, nil)
			refresher.Register(key, source.FetcherFor(key), universal.Policies().For(entity).PrefetchPriority)
		}
		logger.LogInfo(ctx, "origin configured",
			"base_url", cfg.Origin.BaseURL,
			"warm_entities", len(cfg.Refresh.Entities),
		)
	}

	// Prefetch stack
	predictor := prefetch.NewRoutePredictor(nil)
	tracker := prefetch.NewBehaviorTracker(nil)
	analyzer := prefetch.NewPatternAnalyzer(tracker, predictor, nil)
	strategy := prefetch.NewStrategy(prefetch.StrategyConfig{
		Cache:       universal,
		Signal:      netSignal,
		Logger:      logger,
		Metrics:     metrics,
		Concurrency: cfg.Prefetch.Concurrency,
		QueueSize:   cfg.Prefetch.QueueSize,
	})
	strategy.Start(ctx)
	defer strategy.Stop()

	// Quota monitor. Alerts go to SNS when a topic is configured.
	noop := notification.NewNoOpPublisher(logger)
	var alerter notification.Alerter = noop
	var auditor notification.Auditor = noop
	if cfg.AWS.SNSTopicARN != "" {
		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Endpoint:  cfg.AWS.Endpoint,
			Logger:    logger,
			Metrics:   metrics,
		})
		publisher, err := notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create alert publisher", err)
			log.Fatalf("Failed to create alert publisher: %v", err)
		}
		alerter = publisher
		auditor = publisher
	}

	quotaManager := quota.NewManager(quota.ManagerConfig{
		Provider:         quota.NewRedisUsage(redisStore.Client()),
		Alerter:          alerter,
		Logger:           logger,
		Metrics:          metrics,
		TotalBytes:       cfg.Quota.TotalBytes,
		WarningPercent:   cfg.Quota.WarningPercent,
		CriticalPercent:  cfg.Quota.CriticalPercent,
		EntityLimits:     cfg.Quota.EntityLimits,
		DefaultEntityMax: cfg.Quota.DefaultEntityMax,
		CheckInterval:    cfg.Quota.CheckInterval,
	})
	quotaManager.Start(ctx)
	defer quotaManager.Stop()

	// HTTP surface: health, metrics and the behavior/invalidation API.
	deps := &serverDeps{
		cache:     universal,
		engine:    engine,
		scheduler: scheduler,
		predictor: predictor,
		tracker:   tracker,
		analyzer:  analyzer,
		strategy:  strategy,
		quota:     quotaManager,
		auditor:   auditor,
		keys:      keys,
		source:    source,
		metrics:   metrics,
		logger:    logger,
	}
	go startHTTPServer(cfg.HTTP.Port, deps)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.LogInfo(ctx, "cachesyncd started",
		"namespace", cfg.Cache.Namespace,
		"schema_version", cfg.Cache.SchemaVersion,
		"sync_enabled", cfg.Sync.Enabled,
	)

	<-sigCh
	logger.LogInfo(ctx, "shutdown signal received, gracefully stopping...")
}

// serverDeps bundles everything the HTTP handlers touch.
type serverDeps struct {
	cache     *cache.UniversalCache
	engine    *invalidation.Engine
	scheduler *invalidation.Scheduler
	predictor *prefetch.RoutePredictor
	tracker   *prefetch.BehaviorTracker
	analyzer  *prefetch.PatternAnalyzer
	strategy  *prefetch.Strategy
	quota     *quota.Manager
	auditor   notification.Auditor
	keys      *cache.Factory
	source    *origin.Client
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// prefetchCandidates caps how many analyzer picks each navigation queues.
const prefetchCandidates = 3

// startHTTPServer starts the HTTP server for health checks, metrics and
// the behavior-signal API that feeds the prefetch stack.
func startHTTPServer(port int, deps *serverDeps) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", deps.metrics.Handler())

	// Behavior signals: clients report navigations and entity views so
	// the predictor and tracker can learn.
	mux.HandleFunc("POST /v1/navigate", func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")
		if to == "" {
			http.Error(w, "to is required", http.StatusBadRequest)
			return
		}
		if from != "" {
			deps.predictor.RecordNavigation(from, to)
		}
		deps.tracker.RecordRoute(to)

		// Each navigation feeds the analyzer's ranking straight into
		// the prefetch queue, so likely-next data is warm on arrival.
		if deps.source != nil {
			scores := deps.analyzer.Analyze(to, prefetchCandidates)
			entities := make([]string, 0, len(scores))
			for _, s := range scores {
				entities = append(entities, s.Entity)
			}
			deps.strategy.ScheduleEntities(entities, deps.keys, func(entity string) cache.Fetcher {
				return deps.source.FetcherFor(deps.keys.List(entity, nil))
			})
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/view", func(w http.ResponseWriter, r *http.Request) {
		entity := r.URL.Query().Get("entity")
		if entity == "" {
			http.Error(w, "entity is required", http.StatusBadRequest)
			return
		}
		deps.tracker.RecordView(entity)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/predict", func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Query().Get("route")
		limit := 5
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		writeJSON(w, deps.analyzer.Analyze(route, limit))
	})

	mux.HandleFunc("POST /v1/invalidate", func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("target")
		if target == "" {
			http.Error(w, "target is required", http.StatusBadRequest)
			return
		}
		removed := deps.engine.Invalidate(r.Context(), target, invalidation.CauseManual)
		if err := deps.auditor.PublishInvalidationAudit(r.Context(), notification.InvalidationAudit{
			Target:    target,
			Cause:     invalidation.CauseManual,
			Removed:   removed,
			Timestamp: time.Now(),
		}); err != nil {
			deps.logger.LogWarn(r.Context(), "invalidation audit failed", "target", target, "error", err)
		}
		writeJSON(w, map[string]int{"removed": removed})
	})

	mux.HandleFunc("POST /v1/event", func(w http.ResponseWriter, r *http.Request) {
		event := r.URL.Query().Get("name")
		if event == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		var payload any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&payload)
		}
		deps.scheduler.Fire(r.Context(), event, payload)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := deps.cache.Metrics()
		quotaStatus, _ := deps.quota.Check(r.Context())
		writeJSON(w, map[string]any{
			"cache": stats,
			"quota": quotaStatus,
		})
	})

	addr := fmt.Sprintf(":%d", port)
	deps.logger.LogInfo(context.Background(), "HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		deps.logger.LogError(context.Background(), "HTTP server error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
