package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/auth"
	"github.com/bookhive/bookhive/internal/config"
	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/internal/events"
	"github.com/bookhive/bookhive/internal/httpapi"
	"github.com/bookhive/bookhive/internal/ledger"
	"github.com/bookhive/bookhive/internal/metrics"
	"github.com/bookhive/bookhive/internal/repo"
	"github.com/bookhive/bookhive/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Lending backend starting")

	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	bookRepo := repo.NewBookRepository(database, log)
	userRepo := repo.NewUserRepository(database, log)
	borrowingRepo := repo.NewBorrowingRepository(database, log)
	notificationRepo := repo.NewNotificationRepository(database, log)

	log.Info("Connecting to RabbitMQ")
	publisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer publisher.Close()

	notifier, err := events.NewNotifier(cfg.RabbitMQURL, userRepo, notificationRepo, log)
	if err != nil {
		log.Fatal("Failed to start notifier", zap.Error(err))
	}
	defer notifier.Close()

	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()
	go func() {
		if err := notifier.Start(notifierCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Notifier stopped", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mets := metrics.New(registry)

	led := ledger.New(database, log, publisher, mets, cfg.LedgerTimeout)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)

	server := httpapi.NewServer(
		database,
		bookRepo,
		userRepo,
		borrowingRepo,
		notificationRepo,
		led,
		publisher,
		tokens,
		log,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      server.Router(mets, registry),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	stopNotifier()

	log.Info("Server stopped")
}
