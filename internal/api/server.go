// Package api provides the HTTP control surface over the integration core.
// It is a consumer of the core: reads come from the state cache, mutations
// go through the command dispatcher.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/manjotsc/ha-proxy-cheap/internal/coordinator"
	"github.com/manjotsc/ha-proxy-cheap/internal/logging"
	"github.com/manjotsc/ha-proxy-cheap/internal/models"
)

// ProxyServiceInterface defines the service surface the handlers need.
type ProxyServiceInterface interface {
	Refresh()
	Status() coordinator.State
	GetAccount() models.AccountSnapshot
	ListProxies() []models.ProxyRecord
	GetProxy(id string) (models.ProxyRecord, error)
	ExtendProxy(ctx context.Context, id string, months int) models.CommandResult
	BuyBandwidth(ctx context.Context, id string, amountGB float64) models.CommandResult
	UpdateWhitelist(ctx context.Context, id string, ips []string) models.CommandResult
	SetAutoExtend(ctx context.Context, id string, enabled bool) models.CommandResult
	UpdateCredentials(apiKey, apiSecret string)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	service    ProxyServiceInterface
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, service ProxyServiceInterface) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		service: service,
		config:  config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec)

	// Middleware order matters: logging wraps everything.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/account", s.handleGetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/proxies", s.handleListProxies).Methods(http.MethodGet)
	v1.HandleFunc("/proxies/{id}", s.handleGetProxy).Methods(http.MethodGet)
	v1.HandleFunc("/proxies/{id}/extend", s.handleExtend).Methods(http.MethodPost)
	v1.HandleFunc("/proxies/{id}/buy-bandwidth", s.handleBuyBandwidth).Methods(http.MethodPost)
	v1.HandleFunc("/proxies/{id}/whitelist", s.handleUpdateWhitelist).Methods(http.MethodPost)
	v1.HandleFunc("/proxies/{id}/auto-extend", s.handleSetAutoExtend).Methods(http.MethodPost)
	v1.HandleFunc("/credentials", s.handleUpdateCredentials).Methods(http.MethodPost)
}

// Router exposes the configured router. Used in tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving requests; it blocks until the server stops.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
