// Command prediction-api serves label predictions over the universe fitted
// by dataset-pipeline.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/config"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/labels"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/logging"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/metrics"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/serving"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.0.0"

// NewMux wires the prediction routes and /metrics.
func NewMux(s *serving.Server, reg *prometheus.Registry) *http.ServeMux {
	mux := s.NewMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, false)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	var enc *labels.Encoder
	if path := os.Getenv("ENCODER_PATH"); path != "" {
		if enc, err = encoderFromFile(path); err != nil {
			logger.Fatal("failed to load encoder", zap.String("encoder.path", path), zap.Error(err))
		}
		logger.Info("loaded encoder from file", zap.String("encoder.path", path), zap.Int("labels.universe", enc.Len()))
	} else if cfg.Database.URL != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("pgxpool", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		var runID string
		if runID, enc, err = encoderFromDB(ctx, pool); err != nil {
			logger.Fatal("failed to load encoder", zap.Error(err))
		}
		logger.Info("loaded encoder from database", zap.String("run.id", runID), zap.Int("labels.universe", enc.Len()))
	} else {
		logger.Fatal("set ENCODER_PATH or DATABASE_URL")
	}

	topK, _ := strconv.Atoi(os.Getenv("TOP_K"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	srv := &serving.Server{
		Predictor: &serving.StubPredictor{Encoder: enc, TopK: topK},
		Version:   version,
		Logger:    logger,
		Metrics:   metrics.New(reg),
	}
	if pool != nil {
		srv.Ready = pool.Ping
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           NewMux(srv, reg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("prediction-api listening", zap.String("listen_addr", cfg.Server.ListenAddr), zap.String("version", version))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
