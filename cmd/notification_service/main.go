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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	notificationhttp "github.com/RuiRamos84/aintar-payments/internal/notification_service/adapters/http"
	"github.com/RuiRamos84/aintar-payments/internal/notification_service/app"
	"github.com/RuiRamos84/aintar-payments/internal/notification_service/repository/postgres"
	"github.com/RuiRamos84/aintar-payments/internal/platform/config"
	"github.com/RuiRamos84/aintar-payments/internal/platform/database"
	"github.com/RuiRamos84/aintar-payments/internal/platform/logger"
	"github.com/RuiRamos84/aintar-payments/internal/platform/messagebroker"
	"github.com/RuiRamos84/aintar-payments/internal/platform/middleware"
)

const (
	serviceName     = "notification-service"
	shutdownTimeout = 15 * time.Second
	evictInterval   = time.Hour
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	appLogger.Info("Notification service starting...",
		"http_port", cfg.NotificationServicePort,
		"metrics_port", cfg.NotificationServiceMetricsPort,
		"history_limit", cfg.NotificationHistoryLimit,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	store := app.NewStore(
		postgres.NewPgNotificationRepository(dbPool, appLogger),
		clock.NewSystem(),
		app.StoreConfig{
			HistoryLimit:        cfg.NotificationHistoryLimit,
			MaxAge:              cfg.NotificationMaxAge,
			TaskDedupWindow:     cfg.TaskDedupWindow,
			DocumentDedupWindow: cfg.DocumentDedupWindow,
		},
		appLogger,
	)

	consumer := app.NewConsumer(natsClient, store, appLogger)
	sub, err := consumer.Start(mainCtx, serviceName)
	if err != nil {
		appLogger.Error("Failed to start notification consumer", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	handler := notificationhttp.NewNotificationHandler(store, appLogger)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(appLogger))
	router.Use(chiMiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, appLogger))
		handler.Routes(r)
	})

	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.NotificationServicePort),
		Handler: router,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.NotificationServiceMetricsPort),
		Handler: metricsMux,
	}

	g, gCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP API listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		appLogger.Info("Metrics endpoint listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := store.EvictAll(gCtx); err != nil {
					appLogger.Warn("Notification eviction sweep failed", "error", err)
				}
			case <-gCtx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			appLogger.Info("Shutdown signal received", "signal", sig.String())
		case <-gCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Metrics server shutdown error", "error", err)
		}
		mainCancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Notification service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Notification service stopped")
}
