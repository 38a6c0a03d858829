// Package api provides the local HTTP control API of a palladium node
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/discovery"
	"github.com/ZentaChain/palladium/pkg/network"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

// Node is the session surface the API drives. *network.Client implements it.
type Node interface {
	Identity() *protocol.Identity
	State() network.State
	Users() []*protocol.Identity
	Messages() []network.Message
	Lookup(canonical string) (*protocol.Identity, bool)
	Message(ctx context.Context, recipient *protocol.Identity, payload *datauri.DataURI) (*protocol.Packet, error)
	SetNick(ctx context.Context, nick string) error
	SubscribeRoster(buffer int) *network.Subscription[network.RosterEvent]
	SubscribeMessages(buffer int) *network.Subscription[network.Message]
	SubscribeAcks(buffer int) *network.Subscription[network.Acknowledgement]
	SubscribeErrors(buffer int) *network.Subscription[error]
}

// BrowseFunc lists LAN peers advertised over mDNS.
type BrowseFunc func(ctx context.Context) ([]discovery.Peer, error)

// Server represents the HTTP API server
type Server struct {
	node       Node
	router     *gin.Engine
	config     *Config
	log        *zap.Logger
	limiter    *RateLimiter
	browse     BrowseFunc
	httpServer *http.Server
	startTime  time.Time
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	EnableCORS      bool
	RateLimit       int // Requests per minute
	MaxUploadSizeMB int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BrowseTimeout   time.Duration
	Browse          BrowseFunc // optional, defaults to discovery.Browse
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8080,
		EnableCORS:      true,
		RateLimit:       300,
		MaxUploadSizeMB: 32,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		BrowseTimeout:   discovery.DefaultBrowseTimeout,
	}
}

// NewServer creates a new HTTP API server
func NewServer(node Node, config *Config, log *zap.Logger) (*Server, error) {
	if node == nil {
		return nil, errors.New("node is nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		node:      node,
		router:    gin.New(),
		config:    config,
		log:       log,
		limiter:   NewRateLimiter(config.RateLimit),
		browse:    config.Browse,
		startTime: time.Now(),
	}
	if server.browse == nil {
		server.browse = discovery.Browse
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(gin.Recovery())

	s.router.MaxMultipartMemory = int64(s.config.MaxUploadSizeMB) << 20
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		node := v1.Group("/node")
		{
			node.GET("", s.handleNodeInfo)
			node.PUT("/nick", s.handleSetNick)
		}

		v1.GET("/users", s.handleUsers)

		messages := v1.Group("/messages")
		{
			messages.GET("", s.handleMessages)
			messages.POST("", s.handleSendMessage)
		}

		v1.GET("/lan", s.handleLAN)
		v1.GET("/events", s.handleEvents)
	}

	s.router.GET("/health", s.handleHealth)
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API server starting", zap.String("addr", s.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve API: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
