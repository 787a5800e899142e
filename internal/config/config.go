package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	Store        string
	CRDBDSN      string
	Migrate      bool
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string
	LogLevel     string

	PaymentGatewayURL string
	PaymentTimeout    time.Duration
	PaymentCurrency   string

	CompensationRetries int
	StaleOrderAfter     time.Duration
	WorkerInterval      time.Duration
	OutboxInterval      time.Duration
	IdempotencyTTL      time.Duration
	RateLimitPerMinute  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		Store:             getenv("STORE", "crdb"),
		CRDBDSN:           os.Getenv("CRDB_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		JWTPublicKey:      os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		PaymentGatewayURL: os.Getenv("PAYMENT_GATEWAY_URL"),
		PaymentCurrency:   getenv("PAYMENT_CURRENCY", "EUR"),
	}

	var err error
	if cfg.Migrate, err = boolEnv("MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = durationEnv("PAYMENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleOrderAfter, err = durationEnv("STALE_ORDER_AFTER", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WorkerInterval, err = durationEnv("WORKER_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = durationEnv("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CompensationRetries, err = intEnv("COMPENSATION_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", 100); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case "crdb":
		if cfg.CRDBDSN == "" {
			return nil, errors.New("CRDB_DSN is required when STORE=crdb")
		}
	case "memory":
	default:
		return nil, errors.Newf("unknown STORE %q", cfg.Store)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "parse %s", key)
	}
	return b, nil
}
