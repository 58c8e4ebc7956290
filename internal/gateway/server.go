// Package gateway is the HTTP surface: sanitize/reconcile endpoints, ruleset
// management, the live event feed, and sanitizing reverse proxies in front of
// the upstream providers.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/events"
	"github.com/veilgate/veilgate/internal/logger"
	"github.com/veilgate/veilgate/internal/rules"
	"github.com/veilgate/veilgate/internal/sanitize"
	"github.com/veilgate/veilgate/internal/tokenstore"
)

// Server wires the sanitization engine to its HTTP surface.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   *sanitize.Engine
	provider *rules.Provider
	store    tokenstore.Store
	hub      *events.Hub
	router   *mux.Router
	server   *http.Server
	limiter  *clientLimiter
}

// New creates a gateway server around an already-constructed engine.
func New(cfg *config.Config, log *logger.Logger, engine *sanitize.Engine, provider *rules.Provider, store tokenstore.Store, hub *events.Hub) *Server {
	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("gateway"),
		engine:   engine,
		provider: provider,
		store:    store,
		hub:      hub,
		router:   mux.NewRouter(),
		limiter:  newClientLimiter(cfg.RateLimit),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.Events.Enabled {
		s.router.HandleFunc(s.config.Events.Path, s.hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/sanitize", s.handleSanitize).Methods("POST")
	api.HandleFunc("/reconcile", s.handleReconcile).Methods("POST")
	api.HandleFunc("/sessions/{id}/tokens", s.handleDeleteSessionTokens).Methods("DELETE")

	s.router.HandleFunc("/rules/validate", s.handleRulesValidate).Methods("GET")
	s.router.HandleFunc("/rules/reload", s.handleRulesReload).Methods("POST")

	for _, route := range []struct {
		prefix   string
		provider string
		upstream string
	}{
		{"/openai", "openai", s.config.Upstream.OpenAI},
		{"/anthropic", "anthropic", s.config.Upstream.Anthropic},
		{"/ollama", "ollama", s.config.Upstream.Ollama},
	} {
		route := route
		sub := s.router.PathPrefix(route.prefix).Subrouter()
		sub.Use(s.loggingMiddleware)
		sub.Use(s.rateLimitMiddleware)
		sub.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.handleProviderProxy(w, r, route.prefix, route.provider, route.upstream)
		})
	}
}

// Start starts the HTTP server and the event hub.
func (s *Server) Start() error {
	total, lists := s.provider.Current().RuleCount()
	s.logger.Info("starting veilgate",
		zap.Int("port", s.config.Server.Port),
		zap.Int("rules", total),
		zap.Int("list_rules", lists),
		zap.String("token_backend", s.config.Tokens.Backend),
	)

	go s.hub.Run()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping veilgate")
	return s.server.Shutdown(ctx)
}
