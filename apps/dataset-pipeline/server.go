package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/config"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/metrics"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/pipeline"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/storage"
)

// Run states reported by GET /runs/{id}.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRequest is the body of POST /runs.
type RunRequest struct {
	Source string `json:"source"`
	Format string `json:"format,omitempty"`
}

// RunStatus is the worker's view of one run.
type RunStatus struct {
	ID        string            `json:"run_id"`
	Source    string            `json:"source"`
	Status    string            `json:"status"`
	ErrorCode string            `json:"error_code,omitempty"`
	Error     string            `json:"error,omitempty"`
	Summary   *pipeline.Summary `json:"summary,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
}

// Worker runs pipelines on request, one at a time.
type Worker struct {
	cfg      *config.Config
	backends *backends
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	baseCtx context.Context
	sem     chan struct{}
	wg      sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*RunStatus
}

func newWorker(ctx context.Context, cfg *config.Config, b *backends, logger *zap.Logger) *Worker {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Worker{
		cfg:      cfg,
		backends: b,
		registry: reg,
		metrics:  metrics.New(reg),
		logger:   logger,
		baseCtx:  ctx,
		sem:      make(chan struct{}, 1),
		runs:     make(map[string]*RunStatus),
	}
}

// NewMux exposes the worker handlers.
func (w *Worker) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", w.handleHealth)
	mux.HandleFunc("POST /runs", w.handleCreateRun)
	mux.HandleFunc("GET /runs/{id}", w.handleGetRun)
	mux.Handle("GET /metrics", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
	return mux
}

// Wait blocks until background runs finish.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if w.backends.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := w.backends.store.Ping(ctx); err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}

	writeJSON(rw, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"busy":      len(w.sem) > 0,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (w *Worker) handleCreateRun(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.metrics.WebhookReceived("error")
		http.Error(rw, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if w.cfg.Server.WebhookSecret != "" {
		if !verifySignature(w.cfg.Server.WebhookSecret, body, r.Header.Get("X-Signature")) {
			w.logger.Warn("invalid run request signature")
			w.metrics.WebhookReceived("invalid_signature")
			http.Error(rw, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.metrics.WebhookReceived("invalid_json")
		http.Error(rw, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	src, err := storage.Resolve(req.Source, w.backends.s3)
	if err != nil {
		w.metrics.WebhookReceived("invalid_source")
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	opts, err := pipelineOptions(w.cfg, firstNonEmpty(req.Format, w.cfg.Format),
		sinks(w.cfg, w.backends, w.metrics, w.logger, true), w.metrics, w.logger)
	if err != nil {
		w.metrics.WebhookReceived("invalid_format")
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	select {
	case w.sem <- struct{}{}:
	default:
		w.metrics.WebhookReceived("busy")
		writeJSON(rw, http.StatusConflict, map[string]string{"status": "busy", "error": "a run is already in progress"})
		return
	}

	status := &RunStatus{
		ID:        uuid.NewString(),
		Source:    src.Name(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	w.mu.Lock()
	w.runs[status.ID] = status
	w.mu.Unlock()

	w.metrics.WebhookReceived("accepted")
	w.logger.Info("run accepted", zap.String("run.id", status.ID), zap.String("data.source", status.Source))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.execute(status.ID, opts, src)
	}()

	writeJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted", "run_id": status.ID})
}

// execute runs one pipeline. Shutdown does not cancel it; serve waits for it
// and only the run timeout bounds it.
func (w *Worker) execute(runID string, opts pipeline.Options, src pipeline.Source) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.baseCtx), w.cfg.Server.RunTimeout)
	defer cancel()

	res, err := pipeline.New(opts).RunWithID(ctx, runID, src)

	ended := time.Now().UTC()
	w.mu.Lock()
	status := w.runs[runID]
	status.EndedAt = &ended
	if err != nil {
		status.Status = StatusFailed
		status.ErrorCode = string(dataset.CodeOf(err))
		status.Error = err.Error()
	} else {
		summary := res.Summary()
		status.Status = StatusCompleted
		status.Summary = &summary
	}
	w.mu.Unlock()

	if err != nil && w.backends.store != nil {
		if serr := w.backends.store.RecordFailure(context.Background(), runID, src.Name(), status.ErrorCode, err); serr != nil {
			w.logger.Error("failed to record run failure", zap.String("run.id", runID), zap.Error(serr))
		}
	}
}

func (w *Worker) handleGetRun(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	w.mu.Lock()
	status, ok := w.runs[id]
	var snapshot RunStatus
	if ok {
		snapshot = *status
	}
	w.mu.Unlock()

	if !ok {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("run %s not found", id)})
		return
	}
	writeJSON(rw, http.StatusOK, snapshot)
}

func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedMAC))
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// serve runs the HTTP worker until ctx is canceled, then drains in-flight
// runs.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	w := newWorker(ctx, cfg, b, logger)
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           w.NewMux(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dataset pipeline worker starting", zap.String("listen_addr", cfg.Server.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	w.Wait()
	return nil
}
