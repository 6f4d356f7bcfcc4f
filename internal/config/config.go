package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ioggstream/pn-delivery/internal/db"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// AWS
	AWSRegion    string
	AWSAccessKey string // static credentials for MinIO / LocalStack
	AWSSecretKey string

	// Object store; S3Bucket empty means in-memory store
	S3Bucket   string
	S3Endpoint string

	// Events and status queue
	SQSEventQueueURL   string
	SQSStatusQueueURL  string
	SNSEventTopicARN   string
	AWSEndpoint        string // SQS / SNS endpoint override for LocalStack
	StatusPollInterval time.Duration

	// Data vault (opaque recipient ids)
	DataVaultBaseURL string
	DataVaultTimeout time.Duration
	IdentityCacheTTL time.Duration

	// Ingestion
	IUNRetry                 int
	NumberOfPresignedRequest int
	PresignTTL               time.Duration
	VerifyAttachmentSHA256   bool

	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "pn",
		DBName:     "pn_delivery",
		DBSSLMode:  "disable",
		DBMaxConns: 25,

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion: "eu-south-1",

		StatusPollInterval: 5 * time.Second,

		DataVaultBaseURL: "http://localhost:8081",
		DataVaultTimeout: 5 * time.Second,
		IdentityCacheTTL: 24 * time.Hour,

		IUNRetry:                 3,
		NumberOfPresignedRequest: 15,
		PresignTTL:               15 * time.Minute,

		RateLimitPerMinute: 600,
		IdempotencyTTL:     24 * time.Hour,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}

	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", cfg.RedisPoolSize); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AWSAccessKey = stringEnv("AWS_ACCESS_KEY_ID", cfg.AWSAccessKey)
	cfg.AWSSecretKey = stringEnv("AWS_SECRET_ACCESS_KEY", cfg.AWSSecretKey)

	cfg.S3Bucket = stringEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Endpoint = stringEnv("S3_ENDPOINT", cfg.S3Endpoint)

	cfg.SQSEventQueueURL = stringEnv("SQS_EVENT_QUEUE_URL", cfg.SQSEventQueueURL)
	cfg.SQSStatusQueueURL = stringEnv("SQS_STATUS_QUEUE_URL", cfg.SQSStatusQueueURL)
	cfg.SNSEventTopicARN = stringEnv("SNS_EVENT_TOPIC_ARN", cfg.SNSEventTopicARN)
	cfg.AWSEndpoint = stringEnv("AWS_ENDPOINT_URL", cfg.AWSEndpoint)
	if cfg.StatusPollInterval, err = durationEnv("STATUS_POLL_INTERVAL", cfg.StatusPollInterval); err != nil {
		return nil, err
	}

	cfg.DataVaultBaseURL = stringEnv("DATAVAULT_BASE_URL", cfg.DataVaultBaseURL)
	if cfg.DataVaultTimeout, err = durationEnv("DATAVAULT_TIMEOUT", cfg.DataVaultTimeout); err != nil {
		return nil, err
	}
	if cfg.IdentityCacheTTL, err = durationEnv("IDENTITY_CACHE_TTL", cfg.IdentityCacheTTL); err != nil {
		return nil, err
	}

	if cfg.IUNRetry, err = intEnv("IUN_RETRY", cfg.IUNRetry); err != nil {
		return nil, err
	}
	if cfg.NumberOfPresignedRequest, err = intEnv("NUMBER_OF_PRESIGNED_REQUEST", cfg.NumberOfPresignedRequest); err != nil {
		return nil, err
	}
	if cfg.PresignTTL, err = durationEnv("PRESIGN_TTL", cfg.PresignTTL); err != nil {
		return nil, err
	}
	if v := os.Getenv("ATTACHMENT_VERIFY_SHA256"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ATTACHMENT_VERIFY_SHA256: %w", err)
		}
		cfg.VerifyAttachmentSHA256 = b
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DBConfig returns the connection settings for the db package.
func (c *Config) DBConfig() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
		MaxConns: int32(c.DBMaxConns),
	}
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
