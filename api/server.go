package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/0xmhha/pool-indexer/api/graphql"
	apimiddleware "github.com/0xmhha/pool-indexer/api/middleware"
	"github.com/0xmhha/pool-indexer/api/websocket"
	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/indexer"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/0xmhha/pool-indexer/view"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reader is the read side of the published view
type Reader interface {
	Query(q view.Query) view.Page
	Get(txHash string) (*types.TransactionRecord, bool)
}

// StatsProvider reports indexer statistics
type StatsProvider interface {
	Stats() indexer.Stats
}

// Server represents the API server
type Server struct {
	config   *Config
	logger   *zap.Logger
	reader   Reader
	stats    StatsProvider
	eventBus *events.Bus
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
	wsServer *websocket.Server
}

// Option configures optional server dependencies
type Option func(*Server)

// WithStats serves indexer statistics from p
func WithStats(p StatsProvider) Option {
	return func(s *Server) { s.stats = p }
}

// WithGatherer serves /metrics from g instead of the default registry
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new API server over reader
func NewServer(config *Config, logger *zap.Logger, reader Reader, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		logger: logger.With(zap.String("component", "api")),
		reader: reader,
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// SetEventBus streams bus records to websocket clients and reports bus health
func (s *Server) SetEventBus(bus *events.Bus) error {
	s.eventBus = bus
	if s.wsServer != nil {
		return s.wsServer.Attach(bus)
	}
	return nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.LoggerWithLevel(s.logger))

	if s.config.EnableRateLimit {
		s.router.Use(apimiddleware.RateLimit(
			s.config.RateLimitPerSecond,
			s.config.RateLimitBurst,
			s.logger,
		))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(apimiddleware.CORS(s.config.AllowedOrigins))
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() error {
	if s.config.EnableWebSocket {
		s.logger.Info("WebSocket API enabled", zap.String("path", s.config.WebSocketPath))
		s.wsServer = websocket.NewServer(s.logger)
		s.router.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Route(s.config.RESTPrefix, func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.WriteTimeout))
		r.Get("/transactions", s.handleTransactions)
		r.Get("/transactions/{hash}", s.handleTransaction)
		r.Get("/stats", s.handleStats)
	})

	if s.config.EnableGraphQL {
		s.logger.Info("GraphQL API enabled", zap.String("path", s.config.GraphQLPath))

		graphqlHandler, err := graphql.NewHandler(s.reader, s.stats, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create GraphQL handler: %w", err)
		}
		s.router.Handle(s.config.GraphQLPath, graphqlHandler)
	}
	return nil
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string              `json:"status"`
	Timestamp string              `json:"timestamp"`
	EventBus  *EventBusHealthInfo `json:"eventbus,omitempty"`
	WSClients *int                `json:"wsClients,omitempty"`
}

// EventBusHealthInfo contains record bus health information
type EventBusHealthInfo struct {
	Subscribers     int    `json:"subscribers"`
	TotalRecords    uint64 `json:"total_records"`
	TotalDeliveries uint64 `json:"total_deliveries"`
	DroppedRecords  uint64 `json:"dropped_records"`
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.eventBus != nil {
		totalRecords, totalDeliveries, dropped := s.eventBus.Stats()
		response.EventBus = &EventBusHealthInfo{
			Subscribers:     s.eventBus.SubscriberCount(),
			TotalRecords:    totalRecords,
			TotalDeliveries: totalDeliveries,
			DroppedRecords:  dropped,
		}
	}
	if s.wsServer != nil {
		n := s.wsServer.Hub().ClientCount()
		response.WSClients = &n
	}

	writeJSON(w, http.StatusOK, response)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "pool-indexer",
		"version": s.config.Version,
	})
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.config.Address()),
		zap.String("rest", s.config.RESTPrefix),
		zap.Bool("graphql", s.config.EnableGraphQL),
		zap.Bool("websocket", s.config.EnableWebSocket),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	if s.wsServer != nil {
		s.wsServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
