// Package server exposes the realtime session registry over HTTP.
//
// Every route except /health and the metrics path is scoped to the caller
// identified by the X-User-ID header. Operational failures such as missing
// credentials or unknown symbols are reported with status 200 and
// "success": false. Malformed requests return 400 and unknown sessions 404.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/bridge"
	"github.com/solvys-technologies/pulse-sub000/internal/connection"
	"github.com/solvys-technologies/pulse-sub000/internal/contract"
	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/session"
)

// UserHeader carries the caller identity.
const UserHeader = "X-User-ID"

// Sessions is the session registry as seen by the HTTP layer.
type Sessions interface {
	Start(ctx context.Context, userID string, accountID int64) (*session.Session, bool, error)
	Stop(ctx context.Context, userID string, accountID int64) error
	SubscribeContract(ctx context.Context, key session.Key, contractID string) ([]string, error)
	UnsubscribeContract(ctx context.Context, key session.Key, contractID string) ([]string, error)
	Poll(key session.Key, limit int) ([]bridge.QueuedMessage, bool, error)
	Status(key session.Key) (session.Status, error)
	List() []session.Status
	Len() int
	StateCounts() map[connection.State]int
}

// Resolver maps user symbols to broker contracts.
type Resolver interface {
	Resolve(ctx context.Context, symbol string, live bool, cred auth.Credential) (contract.Contract, error)
}

// Config holds server settings.
type Config struct {
	Addr             string
	DefaultUser      string
	DefaultPollLimit int
	MaxPollLimit     int
	MetricsPath      string
	LiveContracts    bool // Contract lookups use live data unless the request says otherwise
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	Debug            bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		DefaultUser:      "default",
		DefaultPollLimit: bridge.DefaultPollLimit,
		MaxPollLimit:     500,
		MetricsPath:      "/metrics",
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     30 * time.Second,
	}
}

// Server is the HTTP control surface.
type Server struct {
	cfg      Config
	sessions Sessions
	resolver Resolver
	creds    session.CredentialSource
	metrics  *metrics.Metrics
	logger   *slog.Logger

	router     *gin.Engine
	httpServer *http.Server
}

// New creates a Server. m may be nil, in which case no metrics route is
// mounted.
func New(cfg Config, sessions Sessions, resolver Resolver, creds session.CredentialSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = defaults.DefaultUser
	}
	if cfg.DefaultPollLimit <= 0 {
		cfg.DefaultPollLimit = defaults.DefaultPollLimit
	}
	if cfg.MaxPollLimit < cfg.DefaultPollLimit {
		cfg.MaxPollLimit = max(defaults.MaxPollLimit, cfg.DefaultPollLimit)
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = defaults.MetricsPath
	}

	if !cfg.Debug && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		resolver: resolver,
		creds:    creds,
		metrics:  m,
		logger:   logger.With("component", "server"),
		router:   router,
	}
	router.Use(s.requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called. It returns nil on a
// clean shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.getHealth)
	if s.metrics != nil {
		s.router.GET(s.cfg.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}

	rt := s.router.Group("/realtime")
	rt.POST("/start", s.postStart)
	rt.POST("/stop", s.postStop)
	rt.POST("/subscribe", s.postSubscribe)
	rt.POST("/unsubscribe", s.postUnsubscribe)
	rt.GET("/status", s.getStatus)
	rt.GET("/poll", s.getPoll)
	rt.GET("/sessions", s.getSessions)
	rt.GET("/contract", s.getContract)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"user", s.userID(c),
		)
	}
}

// userID returns the caller identity from the request header.
func (s *Server) userID(c *gin.Context) string {
	if id := c.GetHeader(UserHeader); id != "" {
		return id
	}
	return s.cfg.DefaultUser
}
