package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vote-spin/src/auth"
	"vote-spin/src/config"
	"vote-spin/src/dispatch"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// -----------------------------------------------------------------------------
// HTTPServer
// -----------------------------------------------------------------------------

type HTTPServer struct {
	Config  *config.Config
	Logger  *logger.Logger
	Hub     *Hub
	Service *dispatch.Service

	engine     *gin.Engine
	httpServer *http.Server
	limiter    *ipRateLimiter
	upgrader   websocket.Upgrader
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	hub *Hub,
	service *dispatch.Service,
	resolver interfaces.IPrincipalResolver,
	clock clockwork.Clock,
) *HTTPServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &HTTPServer{
		Config:  cfg,
		Logger:  log,
		Hub:     hub,
		Service: service,
		engine:  gin.Default(),
	}

	if cfg.Server.VoteRatePerSecond > 0 {
		s.limiter = newIPRateLimiter(cfg.Server.VoteRatePerSecond, cfg.Server.VoteBurst, clock)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine.Use(requestID(), observe(), cors(cfg.Server.AllowedOrigins), auth.Authenticate(resolver))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *HTTPServer) setupRoutes() {
	device := auth.RequireDevice(s.Config.Auth.DeviceKey)
	limited := rateLimit(s.limiter)

	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	vote := s.engine.Group("/api/vote")
	{
		vote.POST("/set", limited, s.submitVote)
		vote.GET("/current", s.getSnapshot)
		vote.GET("/leader", s.getLeader)
		vote.POST("/reset", auth.RequireRole(models.RoleAdmin), s.resetAll)
		vote.GET("/last-reset", s.getLastReset)
		vote.GET("/stream", s.handleStream)
	}

	control := s.engine.Group("/api/control")
	{
		control.POST("/enqueue", device, s.enqueueCommand)
		control.POST("/spin-only", limited, s.spinOnly)
		control.POST("/vote", limited, s.voteAndSpin)
		control.GET("/next", device, s.pollCommands)
		control.GET("/poll", device, s.pollLegacy)
	}

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	allowed := s.Config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) Start() error {
	s.Logger.Info("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes the live streams first so Shutdown does not wait on them.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.Hub.Stop()
	return s.httpServer.Shutdown(ctx)
}
