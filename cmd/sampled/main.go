package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ksachdeva/probability/pkg/api"
	"github.com/ksachdeva/probability/pkg/logging"
	"github.com/ksachdeva/probability/pkg/metrics"
	"github.com/ksachdeva/probability/pkg/ratelimit"
	"github.com/ksachdeva/probability/pkg/runner"
	"github.com/ksachdeva/probability/pkg/shutdown"
	"github.com/ksachdeva/probability/pkg/store"
	"github.com/ksachdeva/probability/pkg/tracing"
)

const version = "1.0.0"

func main() {
	port := flag.String("port", "8080", "API listen port")
	metricsPort := flag.String("metrics-port", "9090", "Metrics listen port")
	dbType := flag.String("db", "memory", "Store backend: memory, sqlite or postgres")
	dbDSN := flag.String("db-dsn", "", "Database connection string (sqlite path or postgres DSN)")
	workers := flag.Int("workers", 0, "Number of run workers (0 = one per logical CPU)")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "Queue polling interval when idle")
	batchSize := flag.Int("batch-size", 100, "Draws per store write")
	rps := flag.Float64("rate-limit", 10, "Submissions per second per client (0 disables)")
	burst := flag.Int("rate-burst", 20, "Submission burst size per client")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON")
	traceRatio := flag.Float64("trace-ratio", 0, "Fraction of runs to trace (0 disables tracing)")
	otlpEndpoint := flag.String("otlp-endpoint", "localhost:4318", "OTLP HTTP endpoint")
	flag.Parse()

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON)
	logger.Info("Starting sampling daemon", map[string]interface{}{
		"version": version,
		"port":    *port,
		"db":      *dbType,
	})

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "sampled",
		ServiceVersion: version,
		Environment:    "production",
		OTLPEndpoint:   *otlpEndpoint,
		SampleRatio:    *traceRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	st, err := store.NewStore(store.Config{Type: *dbType, DSN: *dbDSN})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	handler := api.NewHandler(st, logger)
	if *rps > 0 {
		handler.SetRateLimiter(ratelimit.NewLimiter(*rps, *burst))
	}

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.NewExporter(st))
	metricsSrv := &http.Server{
		Addr:    ":" + *metricsPort,
		Handler: metricsMux,
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())
	workerPool := runner.New(st, logger, tracer, runner.Config{
		Workers:      *workers,
		PollInterval: *pollInterval,
		BatchSize:    *batchSize,
	})
	workerPool.Start(runCtx)

	shutdownMgr := shutdown.New(30 * time.Second)
	shutdownMgr.Register(shutdown.CloseResource(st, "store"))
	shutdownMgr.Register(func(ctx context.Context) error {
		return tracer.Shutdown(ctx)
	})
	shutdownMgr.Register(func(ctx context.Context) error {
		cancelRuns()
		workerPool.Stop()
		return nil
	})
	shutdownMgr.Register(shutdown.StopHTTPServer(metricsSrv, "metrics"))
	shutdownMgr.Register(shutdown.StopHTTPServer(srv, "api"))

	go func() {
		logger.Info("Metrics listening", map[string]interface{}{"addr": metricsSrv.Addr})
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	go func() {
		logger.Info("API listening", map[string]interface{}{"addr": srv.Addr})
		logger.Info("API endpoints", map[string]interface{}{
			"submit":  "POST /runs",
			"list":    "GET /runs",
			"get":     "GET /runs/{id}",
			"cancel":  "DELETE /runs/{id}",
			"samples": "GET /runs/{id}/samples",
			"targets": "GET /targets",
			"health":  "GET /health",
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
}
