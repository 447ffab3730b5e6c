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
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/adapters/gateway"
	paymenthttp "github.com/RuiRamos84/aintar-payments/internal/payment_service/adapters/http"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/app"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/domain"
	"github.com/RuiRamos84/aintar-payments/internal/payment_service/repository/postgres"
	"github.com/RuiRamos84/aintar-payments/internal/platform/config"
	"github.com/RuiRamos84/aintar-payments/internal/platform/database"
	"github.com/RuiRamos84/aintar-payments/internal/platform/logger"
	"github.com/RuiRamos84/aintar-payments/internal/platform/messagebroker"
	"github.com/RuiRamos84/aintar-payments/internal/platform/middleware"
)

const (
	serviceName     = "payment-service"
	shutdownTimeout = 15 * time.Second
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

	appLogger.Info("Payment service starting...",
		"http_port", cfg.PaymentServicePort,
		"metrics_port", cfg.PaymentServiceMetricsPort,
		"log_level", cfg.LogLevel,
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

	clk := clock.NewSystem()
	validate := validator.New()

	transactionRepo := postgres.NewPgTransactionRepository(dbPool, appLogger)
	processor := gateway.NewMockProcessorAdapter(appLogger)

	reconciler := app.NewReconciler(transactionRepo, processor, natsClient, clk, appLogger)
	scheduler := app.NewExpiryScheduler(reconciler, clk, appLogger)
	defer scheduler.Shutdown()

	// The push path must tear down the expiry timer when it terminates a
	// transaction first.
	reconciler.OnTerminal(func(txn *domain.Transaction) { scheduler.Cancel(txn.ID) })

	checkoutService := app.NewCheckoutService(transactionRepo, processor, scheduler, validate, clk, appLogger)
	approvalService := app.NewApprovalService(transactionRepo, clk, appLogger)
	reconciler.OnTerminal(func(txn *domain.Transaction) { approvalService.InvalidatePendingCache() })

	pushSub, err := reconciler.StartPushConsumer(mainCtx, serviceName)
	if err != nil {
		appLogger.Error("Failed to start push consumer", "error", err)
		os.Exit(1)
	}
	defer pushSub.Unsubscribe()

	paymentHandler := paymenthttp.NewPaymentHandler(checkoutService, reconciler, approvalService, appLogger, validate)
	webhookHandler := paymenthttp.NewWebhookHandler(natsClient, cfg.ProcessorCallbackSecret, appLogger, validate)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(appLogger))
	router.Use(chiMiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Post("/webhooks/processor", webhookHandler.HandleProcessorCallback)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, appLogger))
		paymentHandler.Routes(r, middleware.RequireAdmin(appLogger))
	})

	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PaymentServicePort),
		Handler: router,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PaymentServiceMetricsPort),
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
		appLogger.Error("Payment service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Payment service stopped")
}
