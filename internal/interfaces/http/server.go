// Package http exposes the letter workflow over a JSON API and a websocket
// feed. Handlers only translate requests; all rules live in the service layer.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/application/service"
)

// Logger is the key-value logger the transport writes to
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RealtimeServer upgrades a request into a subscription to rooms
type RealtimeServer interface {
	Serve(w http.ResponseWriter, r *http.Request, rooms []string) error
}

// HealthProbe reports whether the process can serve and returns a
// JSON-encodable breakdown
type HealthProbe func() (healthy bool, detail interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxBodyBytes bounds request bodies; signature images are the largest
	MaxBodyBytes int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    2 << 20,
	}
}

// Deps are the collaborators behind the routes. Realtime and Health may be
// nil: the first disables /ws, the second makes /health static.
type Deps struct {
	Letters  service.LetterService
	Actors   port.ActorRepository
	Realtime RealtimeServer
	Health   HealthProbe
	Logger   Logger
}

// Server is the HTTP adapter
type Server struct {
	config ServerConfig
	deps   Deps
	router *gin.Engine
	srv    *http.Server
}

// NewServer builds the router
func NewServer(config ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{config: config, deps: deps, router: gin.New()}

	s.router.Use(gin.Recovery(), accessLog(deps.Logger))
	if config.MaxBodyBytes > 0 {
		s.router.Use(bodyLimit(config.MaxBodyBytes))
	}
	s.routes()
	return s
}

func accessLog(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"actor_id", c.GetString(actorIDKey),
		)
	}
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func (s *Server) routes() {
	h := NewHandlers(s.deps.Letters, s.deps.Realtime, s.deps.Health, s.deps.Logger)
	identity := identityMiddleware(s.deps.Actors, s.deps.Logger)

	s.router.GET("/health", h.HealthCheck)
	// Anyone holding a printed document may verify it
	s.router.GET("/api/artifacts/:documentId/verify", h.VerifyArtifact)

	api := s.router.Group("/api", identity)
	letters := api.Group("/letters")
	letters.POST("", h.Submit)
	letters.GET("", h.ListMine)
	letters.GET("/:id", h.GetLetter)
	letters.POST("/:id/approve", h.Approve)
	letters.POST("/:id/reject", h.Reject)
	letters.POST("/:id/sign", h.Sign)
	letters.POST("/:id/remind", h.Remind)
	letters.GET("/:id/history", h.LetterHistory)
	letters.GET("/:id/artifact", h.GenerateArtifact)

	api.GET("/assigned", h.ListAssigned)
	api.GET("/actors/:id/history", h.ActorHistory)
	api.PUT("/actors/:id", h.UpsertActor)

	if s.deps.Realtime != nil {
		s.router.GET("/ws", identity, h.Subscribe)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully. A
// listener failure is returned as is.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.deps.Logger.Info("Starting HTTP server", "address", s.srv.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Stop()
	})

	err := g.Wait()
	if err != nil {
		s.deps.Logger.Error("HTTP server stopped with error", "error", err)
	}
	return err
}

// Stop drains in-flight requests within ShutdownTimeout
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	s.deps.Logger.Info("HTTP server stopped")
	return nil
}

// Router returns the gin engine, for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns host:port
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}
