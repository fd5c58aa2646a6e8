package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/config"
	"github.com/OFFIS-RIT/deepresearch/internal/migrations"
	"github.com/OFFIS-RIT/deepresearch/internal/queue"
	"github.com/OFFIS-RIT/deepresearch/internal/storage"
	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/leaselock"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/research"
	pgstore "github.com/OFFIS-RIT/deepresearch/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.InitLogger("worker")
		logger.Fatal("Invalid configuration", "err", err)
	}
	cfg.Log.InitLogger("worker")

	// Research engine
	engine, err := config.NewEngine(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not create research engine", "err", err)
	}

	// Init pgx client
	databaseURL := util.GetEnv("DATABASE_URL")
	if util.GetEnvBool("MIGRATE_ON_START", false) {
		if err := migrations.Up(databaseURL); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}
	pgConn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	runs := pgstore.NewRunDBStorageWithConnection(pgConn)

	// Init s3 client
	reports, err := storage.NewReportStoreFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.ResearchQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	holder, _ := os.Hostname()
	processor := &queue.ResearchProcessor{
		Runs:   runs,
		Locks:  leaselock.New(pgConn),
		Events: ch,
		NewResearcher: func(hooks research.Hooks) queue.Researcher {
			return engine.Orchestrator(cfg.Settings(), hooks)
		},
		LeaseTTL: util.GetEnvDuration("RUN_LEASE_TTL", 2*time.Minute),
		Holder:   holder,
	}
	if reports != nil {
		processor.Reports = reports
	}

	// Republish runs orphaned by crashed workers
	if staleAfter := util.GetEnvDuration("STALE_RUN_AFTER", 15*time.Minute); staleAfter > 0 {
		go recoverLoop(ctx, ch, runs, staleAfter)
	}

	// One research run at a time per worker
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.ResearchQueue,
		queue.ResearchQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ResearchQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.ResearchQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.ResearchQueue)
				return
			}
			handleMessage(ctx, processor, engine, consumerCh, msg)
		}
	}
}

func handleMessage(ctx context.Context, processor *queue.ResearchProcessor, engine *config.Engine, ch *amqp.Channel, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.ResearchQueue)

	if err := processor.ProcessResearchMessage(ctx, msg.Body); err != nil {
		logger.Error("Error processing message", "queue", queue.ResearchQueue, "err", err)
		queue.HandleProcessingError(ch, msg, queue.ResearchQueue)
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queue.ResearchQueue)
	}

	engine.LogMetrics("Worker")
	logger.Info("Processing time", "duration", config.FormatClock(time.Since(startTime)))
	logger.Info("Waiting for next message")
}

func recoverLoop(ctx context.Context, ch queue.Publisher, runs *pgstore.RunDBStorage, staleAfter time.Duration) {
	ticker := time.NewTicker(staleAfter / 2)
	defer ticker.Stop()

	for {
		if err := queue.RecoverStaleRuns(ctx, ch, runs, staleAfter); err != nil {
			logger.Error("Failed to recover stale runs", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
