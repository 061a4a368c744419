// Package api exposes the messaging engine over a local HTTP REST API so a
// UI process can drive it without linking Go.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/messaging"
)

// Server is the HTTP front end over one messaging service.
type Server struct {
	svc        *messaging.Service
	router     *gin.Engine
	log        *zap.Logger
	addr       string
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Addr         string
	EnableCORS   bool
	RateLimit    int // requests per minute per client
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8377",
		EnableCORS:   true,
		RateLimit:    300,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates the HTTP API server over a messaging service.
func NewServer(svc *messaging.Service, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		svc:    svc,
		router: router,
		log:    log,
		addr:   config.Addr,
	}
	server.setupMiddleware(config)
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(RateLimitMiddleware(config.RateLimit))
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/initialize", s.handleInitialize)
		v1.POST("/keys/generate", s.handleGenerateKeys)

		messages := v1.Group("/messages")
		{
			messages.POST("/send", s.handleSend)
			messages.GET("/:peer", s.handleListMessages)
			messages.POST("/read", s.handleReadReceipt)
			messages.DELETE("/:id", s.handleDeleteMessage)
		}

		v1.POST("/sync", s.handleSync)
		v1.GET("/notifications", s.handleNotifications)

		relays := v1.Group("/relays")
		{
			relays.GET("", s.handleRelayStatuses)
			relays.POST("", s.handleAddRelay)
			relays.DELETE("", s.handleRemoveRelay)
			relays.PUT("/mode", s.handleSetRelayMode)
			relays.GET("/health", s.handleRelayHealth)
		}

		discovery := v1.Group("/discovery")
		{
			discovery.GET("/:pubkey", s.handleQueryUserRelays)
			discovery.POST("/publish", s.handlePublishRelayList)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", s.handleListSessions)
			sessions.GET("/:peer", s.handleExportSession)
			sessions.POST("", s.handleImportSession)
			sessions.DELETE("/:peer", s.handleDeleteSession)
		}

		v1.POST("/profile", s.handleSetProfile)
		v1.GET("/profile/:pubkey", s.handleFetchProfile)
		v1.GET("/contacts", s.handleListContacts)
		v1.POST("/contacts", s.handleAddContact)

		control := v1.Group("/control")
		{
			control.POST("/typing", s.handleTyping)
			control.POST("/presence", s.handlePresence)
		}

		channels := v1.Group("/channels")
		{
			channels.POST("", s.handleCreateChannel)
			channels.GET("", s.handleQueryChannels)
			channels.POST("/:id/messages", s.handleSendChannelMessage)
			channels.GET("/:id/messages", s.handleFetchChannelMessages)
		}
	}

	s.router.GET("/health", s.handleHealth)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", zap.String("addr", s.addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop shuts the server down outside of Start's lifecycle.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
