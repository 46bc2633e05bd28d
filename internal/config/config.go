package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis (cache, asynq backend, realtime presence)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RabbitMQ (business lifecycle events)
	AmqpURL          string
	AmqpExchange     string
	AmqpQueue        string
	AmqpDialAttempts int

	// JWT
	JwtSecret string

	// Server
	ApiPort string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3 (media collaborator)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	MediaURLTTL        time.Duration

	// App
	AppName     string
	AppBaseURL  string
	PresenceTTL time.Duration
}

// Load reads configuration from the environment. RunMode comes from
// command-line flags and is passed in.
func Load(runMode string) (*Config, error) {
	// .env is optional; missing file is fine.
	godotenv.Load()

	cfg := &Config{RunMode: runMode}

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}
	getIntEnv := func(key string, defaultValue int) int {
		if value, exists := os.LookupEnv(key); exists {
			if n, err := strconv.Atoi(value); err == nil {
				return n
			}
		}
		return defaultValue
	}
	getDurationEnv := func(key string, defaultValue time.Duration) time.Duration {
		if value, exists := os.LookupEnv(key); exists {
			if d, err := time.ParseDuration(value); err == nil {
				return d
			}
		}
		return defaultValue
	}

	var err error
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "comms")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getIntEnv("REDIS_DB", 0)

	cfg.AmqpURL = getEnv("AMQP_URL", "")
	cfg.AmqpExchange = getEnv("AMQP_EXCHANGE", "platform.events")
	cfg.AmqpQueue = getEnv("AMQP_QUEUE", "comms.provisioning")
	cfg.AmqpDialAttempts = getIntEnv("AMQP_DIAL_ATTEMPTS", 5)

	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.ApiPort = getEnv("API_PORT", "8080")

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpPort = getIntEnv("SMTP_PORT", 587)
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "no-reply@hearthside.example")

	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "us-east-1")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.MediaURLTTL = getDurationEnv("MEDIA_URL_TTL", 15*time.Minute)

	cfg.AppName = getEnv("APP_NAME", "Hearthside")
	cfg.AppBaseURL = getEnv("APP_BASE_URL", "http://localhost:8080")
	cfg.PresenceTTL = getDurationEnv("PRESENCE_TTL", 90*time.Second)

	return cfg, nil
}
