package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/performance-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/performance-ticketing/internal/adapters/rabbit"
	"github.com/robertarktes/performance-ticketing/internal/config"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Store != "crdb" {
		log.Fatal("the outbox publisher needs STORE=crdb")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "ticketing-outbox-publisher")
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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	publisher := outbox.NewPublisher(repo, rabbitPub, logger, cfg.OutboxInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("exchange", rabbit.Exchange).Info("Outbox publisher started")
	publisher.Run(ctx)
	logger.Info("Shutdown outbox publisher")
}
