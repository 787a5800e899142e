package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/performance-ticketing/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/performance-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/performance-ticketing/internal/adapters/payment"
	redisadapter "github.com/robertarktes/performance-ticketing/internal/adapters/redis"
	"github.com/robertarktes/performance-ticketing/internal/config"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/saga"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const batchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Store != "crdb" {
		log.Fatal("the worker needs STORE=crdb")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "ticketing-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	observability.SetLevel(logger, cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	var opts []saga.Option
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		opts = append(opts,
			saga.WithCompensationQueue(redisadapter.NewCompensationQueue(redisClient)),
			saga.WithAvailabilityCache(redisadapter.NewCache(redisClient, 5*time.Minute)),
		)
	}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, saga.WithAuditor(mongoadapter.NewAuditLogger(mongoClient.Database("ticketing"), logger)))
	}

	payments := payment.NewClient(cfg.PaymentGatewayURL, cfg.PaymentTimeout, logger)
	orch := saga.NewOrchestrator(repo, payments, logger, saga.Config{
		Currency:            cfg.PaymentCurrency,
		PaymentTimeout:      cfg.PaymentTimeout,
		CompensationRetries: uint(cfg.CompensationRetries),
	}, opts...)

	worker := NewWorker(orch, logger, cfg.StaleOrderAfter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started")
	worker.Run(ctx, cfg.WorkerInterval)
	logger.Info("Shutdown worker")
}

// Worker repairs what the request path could not finish: queued
// compensations, Pending orders left by a crash, and past performances.
type Worker struct {
	orch       *saga.Orchestrator
	logger     observability.Logger
	staleAfter time.Duration
}

func NewWorker(orch *saga.Orchestrator, logger observability.Logger, staleAfter time.Duration) *Worker {
	return &Worker{orch: orch, logger: logger, staleAfter: staleAfter}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if n, err := w.orch.ReplayCompensations(ctx, batchSize); err != nil {
		w.logger.WithError(err).Error("compensation replay failed")
	} else if n > 0 {
		w.logger.WithField("replayed", n).Info("queued compensations replayed")
	}

	if n, err := w.orch.ReconcileStale(ctx, w.staleAfter, batchSize); err != nil {
		w.logger.WithError(err).Error("stale order reconciliation failed")
	} else if n > 0 {
		w.logger.WithField("compensated", n).Warn("stale pending orders compensated")
	}

	if n, err := w.orch.CompleteDuePerformances(ctx, batchSize); err != nil {
		w.logger.WithError(err).Error("performance completion failed")
	} else if n > 0 {
		w.logger.WithField("completed", n).Info("past performances completed")
	}
}
