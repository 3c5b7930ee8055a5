// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magickw/linkDAO-sub011/internal/checkout"
	"github.com/magickw/linkDAO-sub011/internal/config"
	"github.com/magickw/linkDAO-sub011/internal/health"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/models"
)

// Service interfaces for dependency injection and testing

// CheckoutServiceInterface defines the interface for checkout session operations
type CheckoutServiceInterface interface {
	CreateSession(ctx context.Context, input *checkout.CreateSessionInput) (*models.CheckoutSession, error)
	ProcessCheckout(ctx context.Context, input *checkout.ProcessCheckoutInput) (*checkout.CheckoutResult, error)
	GetSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
}

// OrderServiceInterface defines the interface for order lifecycle operations
type OrderServiceInterface interface {
	OrderStatus(ctx context.Context, orderID string) (*checkout.OrderStatusView, error)
	MarkShipped(ctx context.Context, orderID string) (*models.Order, error)
	ConfirmDelivery(ctx context.Context, orderID string) (*models.Order, error)
	ReleaseFunds(ctx context.Context, orderID string) (*models.Order, error)
	OpenDispute(ctx context.Context, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// HealthMonitorInterface defines the interface for health status reporting
type HealthMonitorInterface interface {
	Snapshot() health.Status
	Alerts() []health.Alert
}

// Server represents the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	checkoutService CheckoutServiceInterface
	orderService    OrderServiceInterface
	healthMonitor   HealthMonitorInterface
	events          *checkout.EventHub
	logger          *logging.Logger
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       config.RateLimitConfig
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	checkoutService CheckoutServiceInterface,
	orderService OrderServiceInterface,
	healthMonitor HealthMonitorInterface,
	events *checkout.EventHub,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		checkoutService: checkoutService,
		orderService:    orderService,
		healthMonitor:   healthMonitor,
		events:          events,
		logger:          logging.GetGlobalLogger().WithField("component", "api"),
		config:          config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Create rate limiter
	rateLimiter := NewRateLimiter(s.config.RateLimit)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting after CORS
	s.router.Use(CompressionMiddleware)

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health and operational endpoints
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/health/alerts", s.handleHealthAlerts).Methods("GET")

	// promhttp negotiates its own gzip; the middleware already compresses
	s.router.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{DisableCompression: true},
	)).Methods("GET")

	// Checkout endpoints
	s.router.HandleFunc("/checkout/session", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/checkout/process", s.handleProcessCheckout).Methods("POST")
	s.router.HandleFunc("/checkout/session/{id}", s.handleGetSession).Methods("GET")

	// Order endpoints
	s.router.HandleFunc("/orders/{id}/status", s.handleOrderStatus).Methods("GET")
	s.router.HandleFunc("/orders/{id}/fulfill", s.handleFulfillOrder).Methods("POST")
	s.router.HandleFunc("/orders/{id}/stream", s.handleOrderStream).Methods("GET")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
