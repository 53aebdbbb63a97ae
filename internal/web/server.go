// Package web serves the triage JSON API.
package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/cozytriage/internal/config"
	"github.com/hpungsan/cozytriage/internal/observability"
	"github.com/hpungsan/cozytriage/internal/pipeline"
)

// NewServer creates and configures the HTTP server for the triage API.
func NewServer(svc *pipeline.Service, cfg *config.Config, version string) *http.Server {
	h := NewHandlers(svc, version)

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("POST /api/triage", h.HandleSubmit)
	mux.HandleFunc("GET /api/triage/{session_id}", h.HandleSession)
	mux.HandleFunc("POST /api/triage/{session_id}/decisions", h.HandleDecisions)
	mux.HandleFunc("GET /api/tasks", h.HandleTaskList)
	mux.HandleFunc("PATCH /api/tasks/{task_id}/status", h.HandleTaskStatus)
	mux.HandleFunc("GET /api/projects", h.HandleProjectList)
	mux.HandleFunc("GET /api/projects/{project_id}", h.HandleProjectDetail)
	mux.HandleFunc("GET /api/dashboard", h.HandleDashboard)
	mux.HandleFunc("GET /api/health", h.HandleHealth)

	handler := chainMiddlewares(mux, withLogging, withRequestID, securityHeaders)

	return &http.Server{
		Addr:    cfg.WebAddr,
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	log := observability.Logger()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("triage API listening", "addr", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
