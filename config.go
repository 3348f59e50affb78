package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/controllers"
	"github.com/lakhoreJanvi/product-importer-project/database"
	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"
	"github.com/lakhoreJanvi/product-importer-project/services"
)

// Config holds all configuration for the importer process.
type Config struct {
	Port     string
	AppEnv   string
	Postgres database.PostgresConfig
	RedisURL string

	// Task queue
	TaskQueue         string // redis | sqs
	SQSQueueURL       string
	SQSQueueName      string
	QueuePrefix       string
	QueueMaxAttempts  int
	QueueLeaseTTL     time.Duration
	WorkerID          string
	WorkerConcurrency int

	// Chunk storage
	ChunkStore         string // postgres | s3
	S3Bucket           string
	S3Prefix           string
	UploadTmpDir       string
	ChunkRetention     time.Duration
	ChunkSweepSchedule string
	MaxChunkSize       int64

	// Import pipeline
	ImportBatchSize      int
	DedupWindow          int
	WebhookTimeout       time.Duration
	ImportEventsTopicARN string
	ProgressBackend      string // redis | memory

	// HTTP
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	CORSOrigins    []string

	CloudWatchEnabled  bool
	CloudWatchLogGroup string
	MetricsNamespace   string
	AWS                awspkg.Settings
}

// LoadConfig reads configuration from environment variables with optional
// Secrets Manager override for the database credentials.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "development"),
		Postgres: database.PostgresConfig{
			Host:            os.Getenv("POSTGRES_HOST"),
			Port:            getEnv("POSTGRES_PORT", "5432"),
			User:            os.Getenv("POSTGRES_USER"),
			Password:        os.Getenv("POSTGRES_PASSWORD"),
			DBName:          os.Getenv("POSTGRES_DB"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone:        getEnv("POSTGRES_TIMEZONE", "UTC"),
			MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		TaskQueue:         getEnv("TASK_QUEUE", "redis"),
		SQSQueueURL:       os.Getenv("SQS_QUEUE_URL"),
		SQSQueueName:      os.Getenv("SQS_QUEUE_NAME"),
		QueuePrefix:       getEnv("QUEUE_PREFIX", "importer"),
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueLeaseTTL:     getEnvDuration("QUEUE_LEASE_TTL", 30*time.Second),
		WorkerID:          getEnv("WORKER_ID", hostname()),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		ChunkStore:         getEnv("CHUNK_STORE", "postgres"),
		S3Bucket:           os.Getenv("AWS_S3_BUCKET"),
		S3Prefix:           getEnv("AWS_S3_PREFIX", "uploads/"),
		UploadTmpDir:       os.Getenv("UPLOAD_TMP_DIR"),
		ChunkRetention:     getEnvDuration("CHUNK_RETENTION", services.DefaultChunkRetention),
		ChunkSweepSchedule: getEnv("CHUNK_SWEEP_SCHEDULE", services.DefaultSweepSchedule),
		MaxChunkSize:       int64(getEnvInt("MAX_CHUNK_SIZE", controllers.DefaultMaxChunkSize)),

		ImportBatchSize:      getEnvInt("IMPORT_BATCH_SIZE", services.DefaultBatchSize),
		DedupWindow:          getEnvInt("DEDUP_WINDOW", 0),
		WebhookTimeout:       getEnvDuration("WEBHOOK_TIMEOUT", services.DefaultWebhookTimeout),
		ProgressBackend:      getEnv("PROGRESS_BACKEND", "redis"),
		ImportEventsTopicARN: os.Getenv("IMPORT_EVENTS_TOPIC_ARN"),

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		RateLimit:      getEnvFloat("RATE_LIMIT_RPS", 20),
		RateBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		CloudWatchEnabled:  getEnvBool("CLOUDWATCH_ENABLED", false),
		CloudWatchLogGroup: getEnv("CLOUDWATCH_LOG_GROUP", "/product-importer/services"),
		MetricsNamespace:   getEnv("METRICS_NAMESPACE", "ProductImporter"),
		AWS:                awspkg.SettingsFromEnv(),
	}

	// Override DB credentials from Secrets Manager when running on AWS
	if getEnvBool("AWS_USE_SECRETS", false) {
		if awsCfg, err := awspkg.LoadAWSConfig(context.Background(), cfg.AWS); err == nil {
			sm := awspkg.NewSecretsClient(awsCfg)
			if creds, err := sm.GetDBCredentials(context.Background(), awspkg.DBCredentialsSecret); err == nil {
				applyDBSecret(cfg, creds)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDBSecret(cfg *Config, creds awspkg.DBCredentials) {
	if creds.User != "" {
		cfg.Postgres.User = creds.User
	}
	if creds.Password != "" {
		cfg.Postgres.Password = creds.Password
	}
	if creds.DBName != "" {
		cfg.Postgres.DBName = creds.DBName
	}
	if creds.Host != "" {
		cfg.Postgres.Host = creds.Host
	}
	if creds.Port != "" {
		cfg.Postgres.Port = creds.Port
	}
}

func (c *Config) validate() error {
	p := c.Postgres
	if p.User == "" || p.Password == "" || p.DBName == "" || p.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	switch c.TaskQueue {
	case "redis":
	case "sqs":
		if c.SQSQueueURL == "" && c.SQSQueueName == "" {
			return fmt.Errorf("TASK_QUEUE=sqs requires SQS_QUEUE_URL or SQS_QUEUE_NAME")
		}
	default:
		return fmt.Errorf("unknown TASK_QUEUE %q", c.TaskQueue)
	}
	switch c.ChunkStore {
	case "postgres":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("CHUNK_STORE=s3 requires AWS_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown CHUNK_STORE %q", c.ChunkStore)
	}
	if c.ProgressBackend != "redis" && c.ProgressBackend != "memory" {
		return fmt.Errorf("unknown PROGRESS_BACKEND %q", c.ProgressBackend)
	}
	if c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "worker"
}
