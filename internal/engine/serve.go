package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Serve runs periodic sweeps and exposes /metrics and /healthz until ctx is
// cancelled. The first sweep runs immediately; each sweep writes to
// outputPath (or stdout when empty). A failed sweep is logged and the loop
// keeps going; serve mode has no per-sweep exit codes.
func (e *Engine) Serve(ctx context.Context, outputPath string) error {
	interval := time.Duration(e.cfg.Serve.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	startTime := e.clock()

	var (
		mu        sync.Mutex
		lastSweep struct {
			at       time.Time
			findings int
			err      string
		}
	)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	if e.metrics != nil {
		router.Handle("/metrics", e.metrics.Handler())
	}
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		payload := map[string]interface{}{
			"status":        "ok",
			"uptime":        e.clock().Sub(startTime).String(),
			"last_sweep":    lastSweep.at,
			"last_findings": lastSweep.findings,
			"last_error":    lastSweep.err,
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})

	srv := &http.Server{
		Addr:              e.cfg.Serve.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Infow("Serving", "listen", e.cfg.Serve.Listen, "interval", interval)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sweep := func() {
		if e.metrics != nil {
			e.metrics.SetUptime(startTime)
		}
		result, err := e.Run(ctx, outputPath)
		mu.Lock()
		defer mu.Unlock()
		lastSweep.at = e.clock()
		if err != nil {
			lastSweep.err = err.Error()
			e.logger.Errorw("Sweep failed", "error", err)
			return
		}
		lastSweep.err = ""
		lastSweep.findings = result.Findings
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep()
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			e.logger.Info("Serve loop stopped")
			return nil
		}
	}
}
