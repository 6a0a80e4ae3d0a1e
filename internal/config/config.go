package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	Port       int
	DBURL      string
	DBMaxConns int

	// public URL the frontend is served from; used to absolutize asset links in emails
	PublicBaseURL string
	// origins allowed by CORS
	AllowedOrigins []string

	AdminEmail          string
	AdminPassword       string
	AdminName           string
	JWTSecret           string
	JWTAccessTTLMinutes int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL      string
	AMQPExchange string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	PaymentProvider      string // "sandbox" | "http"
	PaymentBaseURL       string
	PaymentAppID         string
	PaymentSecret        string
	PaymentWebhookSecret string

	OTPSecret string

	UploadDir      string
	MaxUploadBytes int64

	OTLPEndpoint      string
	OTLPSamplePercent int

	// seconds a role config stays cached in the API process
	ConfigCacheTTLSeconds int

	WorkerConcurrency     int
	WorkerPollIntervalMS  int
	WorkerLockTTLSeconds  int
	WorkerJobTimeoutSec   int
	WorkerHealthPort      int
	WorkerShutdownGraceMS int
}

func Load() Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	return Config{
		Env:        getEnv("APP_ENV", "dev"),
		Port:       getEnvInt("PORT", 8080),
		DBURL:      buildDBURL(),
		DBMaxConns: getEnvInt("DB_MAX_CONNS", 10),

		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		AdminEmail:          getEnv("ADMIN_EMAIL", ""),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		AdminName:           getEnv("ADMIN_NAME", "Admin"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 120),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "railtrans.events"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		MailFrom:     getEnv("MAIL_FROM", "RailTrans Expo <no-reply@railtransexpo.com>"),

		PaymentProvider:      getEnv("PAYMENT_PROVIDER", "sandbox"),
		PaymentBaseURL:       getEnv("PAYMENT_BASE_URL", ""),
		PaymentAppID:         getEnv("PAYMENT_APP_ID", ""),
		PaymentSecret:        getEnv("PAYMENT_SECRET", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		OTPSecret: getEnv("OTP_SECRET", "dev-otp-secret"),

		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPSamplePercent: getEnvInt("OTEL_SAMPLE_PERCENT", 100),

		ConfigCacheTTLSeconds: getEnvInt("CONFIG_CACHE_TTL_SECONDS", 30),

		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollIntervalMS:  getEnvInt("WORKER_POLL_INTERVAL_MS", 1000),
		WorkerLockTTLSeconds:  getEnvInt("WORKER_LOCK_TTL_SECONDS", 60),
		WorkerJobTimeoutSec:   getEnvInt("WORKER_JOB_TIMEOUT_SECONDS", 30),
		WorkerHealthPort:      getEnvInt("WORKER_HEALTH_PORT", 8081),
		WorkerShutdownGraceMS: getEnvInt("WORKER_SHUTDOWN_GRACE_MS", 10000),
	}
}

// DevLike reports whether this is a developer or test environment.
func (c Config) DevLike() bool {
	return c.Env == "dev" || c.Env == "test"
}

// SandboxPayments reports whether the self-completing sandbox gateway is in use.
// It can mark any order paid, so it only ever runs in dev and test.
func (c Config) SandboxPayments() bool {
	return c.PaymentProvider != "http" && c.DevLike()
}

// Validate rejects settings that are only safe on a developer machine.
func (c Config) Validate() error {
	switch {
	case c.PaymentProvider != "http" && !c.DevLike():
		return fmt.Errorf("PAYMENT_PROVIDER=%q is only allowed when APP_ENV is dev or test", c.PaymentProvider)
	case c.PaymentProvider == "http" && c.PaymentBaseURL == "":
		return errors.New("PAYMENT_BASE_URL is required when PAYMENT_PROVIDER=http")
	}
	return nil
}

func (c Config) JWTAccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c Config) ConfigCacheTTL() time.Duration {
	return time.Duration(c.ConfigCacheTTLSeconds) * time.Second
}

func buildDBURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "railtrans")
	pass := getEnv("DB_PASSWORD", "railtrans")
	name := getEnv("DB_NAME", "railtrans")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
