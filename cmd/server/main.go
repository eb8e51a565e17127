package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/litetts/synthcore/internal/config"
	"github.com/litetts/synthcore/internal/observability"
	"github.com/litetts/synthcore/internal/resilience"
	"github.com/litetts/synthcore/internal/scheduler"
	"github.com/litetts/synthcore/internal/synth"
	"github.com/litetts/synthcore/internal/voice"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_url", cfg.BackendURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Synthesis core starting")

	// Wire the serving core: loader -> cache -> backend -> scheduler
	loader := voice.NewFileLoader(cfg.VoiceDir)
	cache := voice.NewCache(loader, cfg.CacheCapacity)

	breaker := resilience.NewCircuitBreaker(
		"backend",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	backend := synth.NewHTTPBackend(cfg.BackendURL, time.Duration(cfg.BackendTimeoutSec)*time.Second, breaker)

	sched := scheduler.New(cfg, backend, cache)
	sched.Start()
	defer sched.Stop()

	// Pin configured voices before accepting traffic
	preloadCtx, preloadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, voiceID := range cfg.PreloadList() {
		if err := cache.Preload(preloadCtx, voiceID); err != nil {
			logger.Warn().Err(err).Str("voice_id", voiceID).Msg("Failed to preload voice")
		}
	}
	preloadCancel()

	mux := http.NewServeMux()

	mux.HandleFunc("/v1/synthesize", handleSynthesize(sched))
	mux.HandleFunc("/v1/status", handleStatus(sched))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"backend": backend.Healthy,
		"voices": func(ctx context.Context) (bool, error) {
			if _, err := os.Stat(cfg.VoiceDir); err != nil {
				return false, fmt.Errorf("voice directory unavailable: %w", err)
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Hot-reload the tunable subset when the .env file changes
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	go func() {
		if err := config.Watch(watchCtx, ".env", sched.ApplyTunables); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("Config watcher stopped")
		}
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // synthesis responses wait for dispatch
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// synthesizeRequest is the JSON body accepted by /v1/synthesize
type synthesizeRequest struct {
	Text     string            `json:"text"`
	VoiceID  string            `json:"voice_id"`
	Params   map[string]string `json:"params,omitempty"`
	Priority int               `json:"priority,omitempty"`
}

// synthesizeResponse carries one finished request back to the caller
type synthesizeResponse struct {
	RequestID  string `json:"request_id"`
	Audio      string `json:"audio"` // base64 PCM
	SampleRate int    `json:"sample_rate"`
	DurationMs int64  `json:"duration_ms"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// handleSynthesize admits one request and blocks until it resolves
func handleSynthesize(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		start := time.Now()
		handle, err := sched.Admit(r.Context(), scheduler.SubmitRequest{
			Text:     req.Text,
			VoiceID:  req.VoiceID,
			Params:   req.Params,
			Priority: req.Priority,
		})
		if err != nil {
			writeSchedulerError(w, err)
			return
		}

		result, err := handle.Wait(r.Context())
		if err != nil {
			writeSchedulerError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(synthesizeResponse{
			RequestID:  result.RequestID,
			Audio:      base64.StdEncoding.EncodeToString(result.Audio),
			SampleRate: result.SampleRate,
			DurationMs: result.Duration.Milliseconds(),
			LatencyMs:  time.Since(start).Milliseconds(),
		})
	}
}

// writeSchedulerError maps typed scheduler errors onto HTTP status codes
func writeSchedulerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validationErr *scheduler.ValidationError
	var cacheMissErr *scheduler.CacheMissError
	var backendErr *scheduler.BackendError
	var exhaustedErr *scheduler.ResourceExhaustedError

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &cacheMissErr):
		status = http.StatusNotFound
	case errors.As(err, &exhaustedErr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &backendErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = 499 // client went away before the request resolved
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(synthesizeResponse{Error: err.Error()})
}

// handleStatus exposes the live scheduler snapshot
func handleStatus(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sched.Status())
	}
}
