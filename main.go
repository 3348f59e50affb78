package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/lakhoreJanvi/product-importer-project/common/errors"
	"github.com/lakhoreJanvi/product-importer-project/common/logger"
	"github.com/lakhoreJanvi/product-importer-project/common/middleware"
	"github.com/lakhoreJanvi/product-importer-project/controllers"
	"github.com/lakhoreJanvi/product-importer-project/database"
	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"
	"github.com/lakhoreJanvi/product-importer-project/queue"
	"github.com/lakhoreJanvi/product-importer-project/repository"
	"github.com/lakhoreJanvi/product-importer-project/routes"
	"github.com/lakhoreJanvi/product-importer-project/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const serviceName = "product-importer"

func main() {
	// Load .env file (optional, falls back to system env)
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	awsCfg, awsErr := awspkg.LoadAWSConfig(context.Background(), cfg.AWS)

	var cwWriter *awspkg.CloudWatchLogsClient
	if awsErr == nil && cfg.CloudWatchEnabled {
		cwWriter, err = awspkg.NewCloudWatchLogsClient(context.Background(), awsCfg, cfg.CloudWatchLogGroup, serviceName, true)
		if err != nil {
			log.Printf("CloudWatch logs disabled: %v", err)
			cwWriter = nil
		}
	}

	var appLogger *zap.Logger
	if cwWriter != nil {
		appLogger, err = logger.New(cfg.AppEnv, cwWriter)
	} else {
		appLogger, err = logger.New(cfg.AppEnv, nil)
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer appLogger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(appLogger)

	if awsErr != nil {
		appLogger.Warn("AWS config unavailable, AWS integrations disabled", zap.Error(awsErr))
	}

	db, err := database.ConnectPostgres(cfg.Postgres, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	rdb, err := database.NewRedisClient(context.Background(), cfg.RedisURL)
	if err != nil {
		appLogger.Fatal("Failed to connect to redis", zap.Error(err))
	}

	var metrics *awspkg.MetricsClient
	if awsErr == nil {
		metrics = awspkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.CloudWatchEnabled)
	}

	// Repositories
	productRepo := repository.NewGormProductRepository(db)
	jobRepo := repository.NewGormImportJobRepository(db)
	webhookRepo := repository.NewGormWebhookRepository(db)
	deliveryRepo := repository.NewGormDeliveryRepository(db)

	chunkStore, err := buildChunkStore(cfg, db, awsCfg, awsErr)
	if err != nil {
		appLogger.Fatal("Failed to build chunk store", zap.Error(err))
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	// The lease outlives workerCtx so running imports keep it until they end.
	leaseCtx, stopLease := context.WithCancel(context.Background())
	defer stopLease()

	taskQueue, err := buildQueue(workerCtx, cfg, rdb, awsCfg, awsErr, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to build task queue", zap.Error(err))
	}

	// Services
	var progress services.ProgressBus = services.NewRedisProgressPublisher(rdb, appLogger)
	if cfg.ProgressBackend == "memory" {
		progress = services.NewProgressHub()
	}
	reconstructor := services.NewReconstructor(chunkStore, cfg.UploadTmpDir, appLogger)
	engine := services.NewImportEngine(productRepo, jobRepo, progress, cfg.ImportBatchSize, cfg.DedupWindow, appLogger)
	dispatcher := services.NewWebhookDispatcher(webhookRepo, deliveryRepo, taskQueue, cfg.WebhookTimeout, metrics, appLogger)
	runner := services.NewImportRunner(jobRepo, reconstructor, engine, progress, dispatcher, metrics, appLogger)
	if cfg.ImportEventsTopicARN != "" && awsErr == nil {
		runner.WithSNS(awspkg.NewSNSClient(awsCfg), cfg.ImportEventsTopicARN)
	}
	uploadService := services.NewUploadService(chunkStore, jobRepo, reconstructor, taskQueue, appLogger)

	if rq, ok := taskQueue.(*queue.RedisQueue); ok {
		go rq.KeepAlive(leaseCtx)
	}

	// Workers
	pool := queue.NewPool(taskQueue, cfg.WorkerConcurrency, metrics, appLogger)
	pool.Handle(queue.TaskImportRun, runner.Handle)
	pool.Handle(queue.TaskWebhookDeliver, dispatcher.Deliver)

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		pool.Run(workerCtx)
	}()

	sweeper := services.NewChunkSweeper(chunkStore, cfg.ChunkRetention, cfg.ChunkSweepSchedule, metrics, appLogger)
	if err := sweeper.Start(); err != nil {
		appLogger.Fatal("Failed to start chunk sweeper", zap.Error(err))
	}

	// HTTP
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(appLogger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	validator := controllers.NewRequestValidator(cfg.MaxChunkSize)
	limiter := middleware.NewRateLimiter(workerCtx, rate.Limit(cfg.RateLimit), cfg.RateBurst, 5*time.Minute)

	routes.RegisterRoutes(r,
		controllers.NewUploadController(uploadService, validator),
		controllers.NewImportController(uploadService, progress, validator),
		controllers.NewHealthController(map[string]controllers.Pinger{
			"postgres": func(ctx context.Context) error { return pingDB(ctx, db) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		limiter,
		cfg.RequestTimeout,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	appLogger.Info("Product importer started",
		zap.String("port", cfg.Port),
		zap.String("task_queue", cfg.TaskQueue),
		zap.String("chunk_store", cfg.ChunkStore),
		zap.Int("workers", cfg.WorkerConcurrency),
	)
	<-quit
	appLogger.Info("Shutting down product importer...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	stopWorkers()
	workers.Wait()
	stopLease()
	sweeper.Stop()

	if err := rdb.Close(); err != nil {
		appLogger.Warn("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(db); err != nil {
		appLogger.Warn("Failed to close database", zap.Error(err))
	}
	appLogger.Info("Server exited cleanly")
}

func buildChunkStore(cfg *Config, db *gorm.DB, awsCfg sdkaws.Config, awsErr error) (repository.ChunkStore, error) {
	if cfg.ChunkStore != "s3" {
		return repository.NewGormChunkRepository(db), nil
	}
	if awsErr != nil {
		return nil, awsErr
	}
	return repository.NewS3ChunkStore(awspkg.NewS3Client(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}

func buildQueue(ctx context.Context, cfg *Config, rdb *redis.Client, awsCfg sdkaws.Config, awsErr error, log *zap.Logger) (queue.Queue, error) {
	if cfg.TaskQueue == "sqs" {
		if awsErr != nil {
			return nil, awsErr
		}
		client := awspkg.NewSQSClient(awsCfg)
		queueURL := cfg.SQSQueueURL
		if queueURL == "" {
			url, err := awspkg.GetQueueURL(ctx, client, cfg.SQSQueueName)
			if err != nil {
				return nil, err
			}
			queueURL = url
		}
		return queue.NewSQSQueue(client, queueURL, cfg.QueueMaxAttempts, log), nil
	}

	q := queue.NewRedisQueue(rdb, cfg.QueuePrefix, cfg.WorkerID, cfg.QueueMaxAttempts, log)
	q.SetLeaseTTL(cfg.QueueLeaseTTL)
	// Tasks left in flight by this worker id or by any worker whose lease
	// expired go back on the queue.
	n, err := q.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Info("Recovered in-flight tasks", zap.Int("count", n))
	}
	return q, nil
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
