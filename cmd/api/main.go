package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/clock"
	"github.com/qistapp/installment-service/internal/config"
	"github.com/qistapp/installment-service/internal/handler"
	"github.com/qistapp/installment-service/internal/ledger"
	"github.com/qistapp/installment-service/internal/notify"
	"github.com/qistapp/installment-service/internal/repository"
	"github.com/qistapp/installment-service/internal/scheduler"
	"github.com/qistapp/installment-service/internal/service"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	store := repository.NewPostgres(db)
	clk := clock.New()
	ldg := ledger.New(store, clk, logger, cfg.DefaultThreshold)
	svc := service.NewService(store, ldg, clk, logger)
	h := handler.NewHandler(svc, logger)

	// Reminder delivery sinks
	sinks := []notify.Sink{notify.NewLogSink(logger), notify.NewInboxSink(store)}
	if cfg.SMTPHost != "" {
		sinks = append(sinks, notify.NewEmailSink(cfg, store, logger))
	}
	if cfg.ExpoPushURL != "" {
		sinks = append(sinks, notify.NewPushSink(cfg.ExpoPushURL, store, logger))
	}
	sink := notify.NewMulti(logger, sinks...)

	// Reminder scan loop
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := scheduler.NewScanner(store, sink, clk, logger, cfg.UpcomingWindowDays, cfg.DefaultThreshold)
	loop := scheduler.NewLoop(scanner, cfg.ScanIntervalMinutes, logger)
	if err := loop.Start(ctx); err != nil {
		logger.Fatalf("Failed to start scan loop: %v", err)
	}
	defer loop.Stop()

	// Setup router
	r := mux.NewRouter()
	h.Register(r)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
}
