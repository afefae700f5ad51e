// Package api provides the HTTP status API of a messaging node
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/peers"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/storage"
)

// PeerLister lists connected peers. Only servers have one.
type PeerLister interface {
	List() []peers.Peer
}

// Server represents the HTTP API server for a node
type Server struct {
	transport  *network.Handler
	peers      PeerLister
	journal    *storage.Journal
	router     *gin.Engine
	addr       string
	httpServer *http.Server
	startedAt  time.Time
}

// Config holds server configuration
type Config struct {
	ListenAddr   string
	EnableCORS   bool
	RateLimit    int // Requests per minute per client IP, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:8080",
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP API server. peerList and journal may be nil.
func NewServer(transport *network.Handler, peerList PeerLister, journal *storage.Journal, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		transport: transport,
		peers:     peerList,
		journal:   journal,
		router:    router,
		addr:      config.ListenAddr,
		startedAt: time.Now(),
		httpServer: &http.Server{
			Addr:         config.ListenAddr,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(config.RateLimit)))
	}

	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		transport := v1.Group("/transport")
		{
			transport.GET("/stats", s.handleTransportStats)
			transport.GET("/sessions", s.handleSessions)
		}

		v1.GET("/peers", s.handlePeers)

		messages := v1.Group("/messages")
		{
			messages.GET("", s.handleMessages)
			messages.GET("/stats", s.handleMessageStats)
			messages.GET("/:id", s.handleMessage)
		}
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API server starting", zap.String("addr", s.addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			log.Error("HTTP API server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}
