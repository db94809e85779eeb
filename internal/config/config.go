package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// FrontendURL is the public web origin used to build account setup links.
	FrontendURL string

	AuthJWTSecret string
	AuthTokenTTL  time.Duration

	// PaymentWebhookSecret is the shared secret the payment processor sends
	// in every notification body.
	PaymentWebhookSecret string
	// PipelineWebhookSecret is optional. When set, pipeline callbacks must
	// carry it in the X-Webhook-Secret header.
	PipelineWebhookSecret string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	SeedPlans bool

	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// APIRate and WebhookRate are tokens per second.
	APIRate      float64
	APIBurst     int
	WebhookRate  float64
	WebhookBurst int
	// WebhookLockTTL bounds how long one delivery holds its transaction lock.
	WebhookLockTTL time.Duration
}

type SchedulerConfig struct {
	Enabled         bool
	RunInterval     time.Duration
	BatchSize       int
	StaleJobTimeout time.Duration
	EnabledJobs     []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:               getenv("APP_SERVICE", "testematch"),
		AppVersion:            getenv("APP_VERSION", "0.1.0"),
		Environment:           getenv("ENVIRONMENT", "development"),
		HTTPAddr:              getenv("HTTP_ADDR", ":8080"),
		FrontendURL:           strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
		AuthJWTSecret:         strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthTokenTTL:          getenvDuration("AUTH_TOKEN_TTL", 7*24*time.Hour),
		PaymentWebhookSecret:  strings.TrimSpace(getenv("APPMAX_WEBHOOK_SECRET", "")),
		PipelineWebhookSecret: strings.TrimSpace(getenv("N8N_WEBHOOK_SECRET", "")),
		OTLPEndpoint:          getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:                getenv("DATABASE_TYPE", "postgres"),
		DBHost:                getenv("DATABASE_HOST", "localhost"),
		DBPort:                getenv("DATABASE_PORT", "5432"),
		DBName:                getenv("DATABASE_NAME", "testematch"),
		DBUser:                getenv("DATABASE_USER", "postgres"),
		DBPassword:            getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:             getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:         getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:         getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:     getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:     getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		SeedPlans:             getenvBool("SEED_PLANS", true),
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:  getenv("REDIS_PASSWORD", ""),
			RedisDB:        getenvInt("REDIS_DB", 0),
			APIRate:        getenvFloat("RATE_LIMIT_API_RATE", 100.0/60.0),
			APIBurst:       getenvInt("RATE_LIMIT_API_BURST", 100),
			WebhookRate:    getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 50),
			WebhookBurst:   getenvInt("RATE_LIMIT_WEBHOOK_BURST", 200),
			WebhookLockTTL: getenvDuration("RATE_LIMIT_WEBHOOK_LOCK_TTL", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:     getenvDuration("SCHEDULER_RUN_INTERVAL", 5*time.Minute),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 100),
			StaleJobTimeout: getenvDuration("SCHEDULER_STALE_JOB_TIMEOUT", 0),
			EnabledJobs:     parseList(getenv("SCHEDULER_JOBS", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
