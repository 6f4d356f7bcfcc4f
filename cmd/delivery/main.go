package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/api"
	"github.com/ioggstream/pn-delivery/internal/attachment"
	"github.com/ioggstream/pn-delivery/internal/awscfg"
	"github.com/ioggstream/pn-delivery/internal/circuitbreaker"
	"github.com/ioggstream/pn-delivery/internal/config"
	"github.com/ioggstream/pn-delivery/internal/datavault"
	"github.com/ioggstream/pn-delivery/internal/db"
	"github.com/ioggstream/pn-delivery/internal/events"
	"github.com/ioggstream/pn-delivery/internal/ingest"
	"github.com/ioggstream/pn-delivery/internal/iun"
	"github.com/ioggstream/pn-delivery/internal/metrics"
	"github.com/ioggstream/pn-delivery/internal/observ"
	"github.com/ioggstream/pn-delivery/internal/redis"
	"github.com/ioggstream/pn-delivery/internal/search"
	"github.com/ioggstream/pn-delivery/internal/sns"
	"github.com/ioggstream/pn-delivery/internal/sqs"
	"github.com/ioggstream/pn-delivery/internal/status"
	"github.com/ioggstream/pn-delivery/internal/storage"
	"github.com/ioggstream/pn-delivery/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "pn-delivery")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pn-delivery",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int("iun_retry", iun.MaxAttempts(cfg.IUNRetry)),
	)

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DBConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs idempotency, rate limiting and the opaque id cache.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var (
		idempotencyService *redis.IdempotencyService
		rateLimiter        *redis.RateLimiter
		identityCache      *redis.IdentityCache
		redisHealth        api.Pinger
	)
	if redisClient != nil {
		redisHealth = redisClient
		defer redisClient.Close()
		idempotencyService = redis.NewIdempotencyService(redisClient, cfg.IdempotencyTTL, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		identityCache = redis.NewIdentityCache(redisClient, cfg.IdentityCacheTTL)
	}

	awsCfg, err := awscfg.Load(ctx, awscfg.Options{
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
	})
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}

	var objects interface {
		storage.ObjectStore
		storage.Presigner
	}
	if cfg.S3Bucket != "" {
		objects = storage.NewS3Store(awsCfg, storage.S3Config{Bucket: cfg.S3Bucket, Endpoint: cfg.S3Endpoint}, logger)
	} else {
		logger.Warn("S3_BUCKET not set, attachments are kept in memory")
		objects = storage.NewMemoryStore()
	}

	var publishers events.Multi
	if cfg.SQSEventQueueURL != "" {
		publishers = append(publishers, sqs.NewProducer(sqs.NewClient(awsCfg, cfg.AWSEndpoint), cfg.SQSEventQueueURL, logger))
	}
	if cfg.SNSEventTopicARN != "" {
		publishers = append(publishers, sns.NewPublisher(sns.NewClient(awsCfg, cfg.AWSEndpoint), cfg.SNSEventTopicARN, logger))
	}
	if len(publishers) == 0 {
		publishers = append(publishers, events.NewLogPublisher(logger))
	}

	breakerCfg := circuitbreaker.DefaultConfig("datavault")
	breakerCfg.IsFailure = datavault.IsServerSide
	protected := datavault.NewProtectedResolver(
		datavault.NewClient(datavault.Config{BaseURL: cfg.DataVaultBaseURL, Timeout: cfg.DataVaultTimeout}, logger),
		circuitbreaker.New(breakerCfg, logger),
	)
	var resolver datavault.Resolver = protected
	if identityCache != nil {
		resolver = datavault.NewCachedResolver(resolver, identityCache, logger)
	}

	ingestService := ingest.NewService(
		iun.NewAllocator(iun.NewGenerator(nil, nil), logger),
		attachment.NewMaterializer(objects, cfg.VerifyAttachmentSHA256, logger),
		repo,
		publishers,
		ingest.Config{IUNRetry: cfg.IUNRetry},
		logger,
	)
	statusService := status.NewService(repo, resolver, logger)
	searchService := search.NewService(repo, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.SQSStatusQueueURL != "" {
		consumer := sqs.NewConsumer(sqs.NewClient(awsCfg, cfg.AWSEndpoint), cfg.SQSStatusQueueURL, logger)
		w := worker.New(consumer, statusService, worker.Config{
			PollInterval: cfg.StatusPollInterval,
			BatchSize:    10,
			MaxRetries:   5,
		}, logger)
		go w.Start(workerCtx)
		logger.Info("status worker started", zap.String("queue", cfg.SQSStatusQueueURL))
	}

	svc := api.Services{
		Ingester:  ingestService,
		Reader:    repo,
		Status:    statusService,
		Search:    searchService,
		Presigner: objects,
	}
	preload := api.PreloadConfig{MaxRequests: cfg.NumberOfPresignedRequest, TTL: cfg.PresignTTL}

	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithIdempotency(logger, svc, preload, idempotencyService)
	} else {
		handler = api.NewHandler(logger, svc, preload)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	handler.Routes(r,
		api.RateLimitMiddleware(rateLimiter, logger, api.SenderKeyFunc),
		api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc),
	)

	r.Get("/health", api.HealthHandler(database, redisHealth, protected.Breaker()))

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
