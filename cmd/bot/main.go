package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-position-bot-go/internal/binance"
	"binance-position-bot-go/internal/config"
	"binance-position-bot-go/internal/database"
	"binance-position-bot-go/internal/ledger"
	"binance-position-bot-go/internal/logger"
	"binance-position-bot-go/internal/notify"
	"binance-position-bot-go/internal/pricecache"
	"binance-position-bot-go/internal/stream"
	"binance-position-bot-go/internal/trader"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database and ledger
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := ledger.NewStore(db)
	log.Info("Database connection successful and schema migrated.")

	// Initialize Binance REST client and verify connectivity before
	// anything can trade.
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	// Shared price cache and the per-symbol stream supervisor
	cache := pricecache.New()
	supervisor := stream.NewSupervisor(cfg.Stream, cfg.Binance.WsURL, cache, log)

	// Order execution and notifications
	notifier := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, log)
	executor := trader.NewExecutor(log, &cfg, store, cache, restClient, notifier)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize the trading engine and its HTTP surface
	engine := trader.NewEngine(log, &cfg, restClient, store, cache, supervisor, executor)
	apiServer := trader.NewAPIServer(cfg.Server.Port, engine, executor, log)
	apiServer.Start()

	if err := engine.Run(ctx); err != nil {
		log.Error("Engine stopped with error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
