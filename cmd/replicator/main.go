package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/replicator/internal/recorder"
	"github.com/your-org/replicator/internal/replication"
	"github.com/your-org/replicator/pkg/config"
	"github.com/your-org/replicator/pkg/kafka"
	"github.com/your-org/replicator/pkg/logger"
	"github.com/your-org/replicator/pkg/metrics"
	"github.com/your-org/replicator/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogFormat, cfg.App.Name)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	source, err := newSource(ctx, cfg)
	if err != nil {
		logr.Fatal("init source", zap.String("provider", cfg.Source.Provider), zap.Error(err))
	}
	destination, err := newDestination(ctx, cfg)
	if err != nil {
		logr.Fatal("init destination", zap.String("provider", cfg.Destination.Provider), zap.Error(err))
	}

	store, err := recorder.OpenStore(recorder.StoreConfig{
		Path:     cfg.Recorder.Path,
		InMemory: cfg.Recorder.InMemory,
		Logger:   logr,
	})
	if err != nil {
		logr.Fatal("init record store", zap.Error(err))
	}
	recorders := recorder.Multi{store}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
		recorders = append(recorders, recorder.NewPublisher(producer))
	}

	engine := replication.NewEngine(replication.Params{
		Source:          source,
		Destination:     destination,
		Recorder:        recorders,
		Logger:          logr,
		Prefetch:        cfg.Replication.PrefetchChunks,
		RetryDelay:      cfg.Replication.RetryDelay,
		TransferTimeout: cfg.Replication.TransferTimeout,
	})

	handler := replication.NewHTTPHandler(replication.HandlerParams{
		Engine:      engine,
		Records:     store,
		Logger:      logr,
		Service:     cfg.App.Name,
		Destination: cfg.Destination.Bucket,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		logr.Info(name+" server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}
	go serve("replication", server)
	if cfg.Metrics.Addr != "" {
		go serve("metrics", metricsServer)
	}

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-errCh:
		logr.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("http server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logr.Error("metrics server shutdown failed", zap.Error(err))
	}
	if producer != nil {
		if err := producer.Close(shutdownCtx); err != nil {
			logr.Error("kafka producer shutdown failed", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		logr.Error("record store shutdown failed", zap.Error(err))
	}
	if err := errors.Join(source.Close(), destination.Close()); err != nil {
		logr.Error("backend shutdown failed", zap.Error(err))
	}
}
