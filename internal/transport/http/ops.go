// Package http serves the operational endpoints: dependency health and
// counters.
package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"fleet-monitor/monitor/internal/metrics"
)

// Pinger is anything whose reachability can be checked, e.g. the Postgres
// pool or the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	deps    map[string]Pinger
	timeout time.Duration
}

func NewHealthChecker(deps map[string]Pinger) *HealthChecker {
	return &HealthChecker{deps: deps, timeout: 2 * time.Second}
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	deps := gin.H{}
	for _, name := range names {
		if err := h.deps[name].Ping(ctx); err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = gin.H{"status": "up"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}

func NewRouter(health *HealthChecker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	health.Register(r)
	r.GET("/metrics", gin.WrapF(metrics.HandleMetrics))
	return r
}

// Server runs the ops router until its context is cancelled.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

func NewServer(port string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.With(slog.String("component", "ops_server")),
	}
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops_server_listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("ops_server_shutdown_failed", slog.Any("error", err))
	}
	return nil
}
