package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/performance-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/performance-ticketing/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/performance-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/performance-ticketing/internal/adapters/payment"
	redisadapter "github.com/robertarktes/performance-ticketing/internal/adapters/redis"
	"github.com/robertarktes/performance-ticketing/internal/config"
	httphandler "github.com/robertarktes/performance-ticketing/internal/http"
	"github.com/robertarktes/performance-ticketing/internal/idempotency"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/robertarktes/performance-ticketing/internal/rateLimit"
	"github.com/robertarktes/performance-ticketing/internal/saga"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const availabilityTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTPublicKey == "" {
		log.Fatal("JWT_PUBLIC_KEY is required")
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "ticketing-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	observability.SetLevel(logger, cfg.LogLevel)

	checks := map[string]httphandler.ReadinessCheck{}
	var store port.Store
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		store = memory.NewStore()
	default:
		pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if cfg.Migrate {
			if err := repo.Migrate(context.Background()); err != nil {
				log.Fatalf("failed to migrate: %v", err)
			}
		}
		checks["crdb"] = repo.Ping
		store = repo
	}

	var opts []saga.Option
	routerCfg := httphandler.RouterConfig{RateLimitPerMinute: cfg.RateLimitPerMinute}

	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		opts = append(opts,
			saga.WithAvailabilityCache(redisadapter.NewCache(redisClient, availabilityTTL)),
			saga.WithCompensationQueue(redisadapter.NewCompensationQueue(redisClient)),
		)
		routerCfg.Idempotency = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		routerCfg.RateLimiter = rateLimit.NewRateLimiter(redisClient, logger)
	} else {
		logger.Warn("REDIS_ADDR not set: no idempotency replay, rate limiting or compensation queue")
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		audit := mongoadapter.NewAuditLogger(mongoClient.Database("ticketing"), logger)
		if err := audit.EnsureIndexes(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to create audit indexes")
		}
		opts = append(opts, saga.WithAuditor(audit))
	}

	payments := payment.NewClient(cfg.PaymentGatewayURL, cfg.PaymentTimeout, logger)
	orch := saga.NewOrchestrator(store, payments, logger, saga.Config{
		Currency:            cfg.PaymentCurrency,
		PaymentTimeout:      cfg.PaymentTimeout,
		CompensationRetries: uint(cfg.CompensationRetries),
	}, opts...)

	routerCfg.Auth, err = httphandler.NewAuthenticator(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to load JWT key: %v", err)
	}

	handlers := httphandler.NewHandlers(orch, checks)
	r := httphandler.SetupRouter(handlers, logger, routerCfg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	// Sagas run detached from the request, so give in-flight payments time
	// to settle before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PaymentTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
