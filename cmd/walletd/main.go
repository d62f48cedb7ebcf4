package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RadiSaiyed/Shamell-sub002/internal/api"
	"github.com/RadiSaiyed/Shamell-sub002/internal/cashmandate"
	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/data/mongo"
	"github.com/RadiSaiyed/Shamell-sub002/internal/data/postgres"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
	"github.com/RadiSaiyed/Shamell-sub002/internal/logger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/outboxpoller"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/messaging/producers"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/metrics"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
	"github.com/RadiSaiyed/Shamell-sub002/internal/reaper"
	"github.com/RadiSaiyed/Shamell-sub002/internal/redpacket"
	"github.com/RadiSaiyed/Shamell-sub002/internal/sonic"
	"github.com/RadiSaiyed/Shamell-sub002/internal/voucher"
)

func main() {
	// Base context canceled on shutdown; the pollers watch it
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("walletd")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	// Databases. Postgres runs migrations on connect.
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	redisDB, err := persistence.NewRedisDB(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	// Kafka producers for the outbox fanout
	txnProducer, err := producers.NewTxnEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize Kafka txn event producer", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize Kafka DLQ producer", "error", err)
		os.Exit(1)
	}

	// Repositories
	walletRepo := postgres.NewWalletRepository(log, postgresDB)
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	idemRepo := postgres.NewIdempotencyRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	sonicRepo := postgres.NewSonicRepository(log, postgresDB)
	cashRepo := postgres.NewCashMandateRepository(log, postgresDB)
	voucherRepo := postgres.NewVoucherRepository(log, postgresDB)
	redPacketRepo := postgres.NewRedPacketRepository(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())

	m := metrics.NewMetrics()

	// Guardrails over the ledger's activity windows, risk state in Redis
	guard := guardrail.NewEngine(log, &cfg.Guardrail, ledgerRepo, guardrail.NewRedisRiskStore(redisDB.Client()), auditRepo, m)

	eng, err := engine.New(log, postgresDB, walletRepo, ledgerRepo, idemRepo, outboxRepo, guard, &cfg.Wallet, m)
	if err != nil {
		log.Error("Failed to initialize ledger engine", "error", err)
		os.Exit(1)
	}

	currency := cfg.Wallet.Currency
	sonicSvc := sonic.NewService(log, eng, sonicRepo, &cfg.Sonic, currency)
	cashSvc := cashmandate.NewService(log, eng, cashRepo, &cfg.Cash, currency)
	voucherSvc := voucher.NewService(log, eng, voucherRepo, &cfg.Voucher, currency)
	redPacketSvc := redpacket.NewService(log, postgresDB, eng, redPacketRepo, &cfg.RedPacket, currency)

	// Background workers: outbox fanout and the reservation reaper
	poller := outboxpoller.NewPoller(log, &cfg.Outbox, outboxRepo, txnProducer, dlqProducer, m)
	go poller.Start(appCtx)

	sweeper, err := reaper.New(log, &cfg.Reaper, sonicRepo, cashSvc, cashRepo, voucherSvc, voucherRepo, redPacketSvc, redPacketRepo, ledgerRepo, auditRepo, m)
	if err != nil {
		log.Error("Failed to initialize reaper", "error", err)
		os.Exit(1)
	}
	go sweeper.Start(appCtx)

	server := api.NewServer(log, cfg, eng, sonicSvc, cashSvc, voucherSvc, redPacketSvc)
	log.Info("REST server initialized")

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Stop the workers before closing their stores
	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if err = txnProducer.Close(); err != nil {
		log.Error("Error closing Kafka txn event producer", "error", err)
	}
	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing Kafka DLQ producer", "error", err)
	}

	postgresDB.Close()

	if err = redisDB.Close(); err != nil {
		log.Error("Error closing Redis connection", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
		os.Exit(1)
	}
	log.Info("Server shutdown completed successfully")
}
