package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/dejobratic/ordersaga/internal/config"
	"github.com/dejobratic/ordersaga/internal/database"
	inboxpostgres "github.com/dejobratic/ordersaga/internal/inbox/postgres"
	"github.com/dejobratic/ordersaga/internal/kafka"
	"github.com/dejobratic/ordersaga/internal/outbox"
	outboxpostgres "github.com/dejobratic/ordersaga/internal/outbox/postgres"
	httpadapter "github.com/dejobratic/ordersaga/internal/saga/adapters/http"
	sagapostgres "github.com/dejobratic/ordersaga/internal/saga/adapters/postgres"
	"github.com/dejobratic/ordersaga/internal/saga/app"
	sagametrics "github.com/dejobratic/ordersaga/internal/saga/metrics"
	"github.com/dejobratic/ordersaga/internal/telemetry"
	"github.com/dejobratic/ordersaga/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("orchestrator exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewLogger(parseLogLevel(cfg.Telemetry.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		EnableTracing:  cfg.Telemetry.EnableTracing && cfg.Telemetry.OTelEndpoint != "",
		EnableMetrics:  cfg.Telemetry.EnableMetrics && cfg.Telemetry.OTelEndpoint != "",
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations completed successfully")
	}

	meter := otel.Meter(cfg.Service.Name)

	sagaMetrics, err := sagametrics.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create saga metrics: %w", err)
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}

	repo := sagapostgres.NewRepository(pool)
	inboxStore := inboxpostgres.NewStore(pool)
	service := app.NewService(repo, inboxStore, logger, sagaMetrics)

	dispatcher, err := buildDispatcher(cfg, meter)
	if err != nil {
		return err
	}

	outboxStore := outboxpostgres.NewStore(pool)
	relay := outbox.NewRelay(outboxStore, dispatcher, logger, outbox.RelayConfig{
		PollInterval:   cfg.Outbox.PollInterval,
		BatchSize:      cfg.Outbox.BatchSize,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		InitialBackoff: cfg.Outbox.InitialBackoff,
		MaxBackoff:     cfg.Outbox.MaxBackoff,
	})

	workers := worker.New(cfg.Worker.Count, cfg.Worker.QueueDepth, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.CheckHealth(r.Context(), pool); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	httpadapter.NewHandler(service).Register(mux)

	handler := withRecovery(withLogging(httpadapter.WithMetrics(mux, httpMetrics)))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("outbox relay starting", "poll_interval", cfg.Outbox.PollInterval)
		return relay.Run(groupCtx)
	})

	group.Go(func() error {
		logger.Info("worker pool starting", "workers", cfg.Worker.Count)
		return workers.Run(groupCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		reader := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.RepliesTopic, cfg.Kafka.GroupID)
		defer reader.Close()

		consumer := kafka.NewConsumer(reader, workers, service.Processor(), logger)
		group.Go(func() error {
			logger.Info("kafka consumer starting", "topic", cfg.Kafka.RepliesTopic, "group", cfg.Kafka.GroupID)
			return consumer.Run(groupCtx)
		})
	} else {
		logger.Warn("no kafka brokers configured, inbound messages limited to the HTTP edge")
	}

	group.Go(func() error {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		logger.Info("http server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildDispatcher(cfg *config.Config, meter metric.Meter) (outbox.Dispatcher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return kafka.NewNoopDispatcher(), nil
	}

	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create kafka metrics: %w", err)
	}
	return kafka.NewDispatcher(kafka.NewWriter(cfg.Kafka.Brokers), kafka.DefaultTopics(), kafkaMetrics), nil
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", time.Since(start))
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "error", rec)
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
