// Package server exposes the gateway to the desktop shell over a local
// HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/audit"
	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/events"
	"github.com/raaihank/medgateway/internal/gateway"
	"github.com/raaihank/medgateway/internal/logger"
)

// Version is reported by /info
var Version = "0.1.0"

// Server is the HTTP front of the gateway
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	gateway  *gateway.Gateway
	recorder audit.Recorder
	hub      *events.Hub
	limiter  *RateLimiter
	router   *mux.Router
	server   *http.Server
	started  time.Time
}

// New creates the server. hub may be nil when websocket events are disabled.
func New(cfg *config.Config, gw *gateway.Gateway, recorder audit.Recorder, hub *events.Hub, log *logger.Logger) *Server {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		gateway:  gw,
		recorder: recorder,
		hub:      hub,
		limiter:  NewRateLimiter(cfg.RateLimit),
		router:   mux.NewRouter(),
		started:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/providers", s.handleProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/switch", s.handleSwitch).Methods(http.MethodPost)
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting gateway API",
		zap.String("addr", s.server.Addr),
		zap.String("active_provider", s.gateway.Factory().GetActiveProviderName()),
	)

	go s.limiter.StartCleanupRoutine(ctx)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway API")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.gateway.Factory().GetActiveProviderName() == "" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	factory := s.gateway.Factory()
	info := map[string]interface{}{
		"name":            "medgateway",
		"version":         Version,
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"active_provider": factory.GetActiveProviderName(),
		"active_model":    factory.GetActiveModelName(),
		"extraction":      s.config.Extraction.Enabled,
		"audit":           s.config.Audit.Enabled,
		"websocket":       s.hub != nil && s.config.WebSocket.Enabled,
	}
	if s.hub != nil {
		info["websocket_stats"] = s.hub.Stats()
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func errorf(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeError(w, status, fmt.Sprintf(format, args...))
}
