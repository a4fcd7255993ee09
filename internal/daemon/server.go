// Package daemon serves the state of a running download over HTTP so that a
// parent process can poll it, stream it, or stop it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/updatekit/updatekit/internal/history"
	"github.com/updatekit/updatekit/internal/logger"
	"github.com/updatekit/updatekit/internal/progress"
	"github.com/updatekit/updatekit/internal/websocket"
)

const DefaultHost = "127.0.0.1"

// SessionHeader carries the daemon run's session id on every response.
const SessionHeader = "X-Session-Id"

var ErrPortInUse = errors.New("port is already in use")

// Options configures a Server. Tracker is required; the rest are optional.
type Options struct {
	Host    string
	Port    int
	Tracker *progress.Tracker
	Hub     *websocket.Hub
	History *history.Service
	Logs    *logger.Stream
	Logger  zerolog.Logger
}

// ShutdownResponse is the body returned by POST /shutdown.
type ShutdownResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Server is the daemon HTTP server.
type Server struct {
	echo      *echo.Echo
	opts      Options
	sessionID string
	logger    zerolog.Logger

	mu           sync.Mutex
	shuttingDown bool
	done         chan struct{}
	doneOnce     sync.Once
	listener     net.Listener
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		opts:      opts,
		sessionID: uuid.NewString(),
		logger:    opts.Logger.With().Str("component", "daemon").Logger(),
		done:      make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(SessionHeader, s.sessionID)
			return next(c)
		}
	})
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogMethod:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/shutdown", s.handleShutdown)

	if s.opts.Hub != nil {
		s.echo.GET("/ws", s.opts.Hub.HandleWebSocket)
	}
	if s.opts.Logs != nil {
		s.echo.GET("/logs", s.handleLogs)
	}
	if s.opts.History != nil {
		history.NewHandlers(s.opts.History).RegisterRoutes(s.echo.Group("/history"))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// SessionID identifies this daemon run. It is sent in the SessionHeader.
func (s *Server) SessionID() string {
	return s.sessionID
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *Server) Listen() (net.Addr, error) {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrPortInUse, s.opts.Port, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Serve runs the hub and serves HTTP on the bound listener until Shutdown.
// Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("daemon: Serve called before Listen")
	}

	if s.opts.Hub != nil {
		go s.opts.Hub.Run(ctx)
	}

	s.echo.Listener = ln
	s.logger.Info().Str("address", ln.Addr().String()).Str("session", s.sessionID).Msg("Daemon started")

	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("daemon server: %w", err)
	}
	return nil
}

// Done is closed once a shutdown has been requested, through /shutdown, the
// parent watchdog, or RequestShutdown.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// RequestShutdown marks the server as shutting down. It reports false when a
// shutdown was already requested.
func (s *Server) RequestShutdown(reason string) bool {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return false
	}
	s.shuttingDown = true
	s.mu.Unlock()

	s.logger.Info().Str("reason", reason).Msg("Shutdown requested")
	s.doneOnce.Do(func() { close(s.done) })
	return true
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.RequestShutdown("server stopping")
	return s.echo.Shutdown(ctx)
}

// WatchParent requests a shutdown when alive reports false. It returns when
// ctx is done or a shutdown was requested.
func (s *Server) WatchParent(ctx context.Context, interval time.Duration, alive func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if !alive() {
				s.logger.Warn().Msg("Parent process exited")
				s.RequestShutdown("parent exited")
				return
			}
		}
	}
}

// GET /status
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Tracker.Snapshot())
}

// POST /shutdown
func (s *Server) handleShutdown(c echo.Context) error {
	if !s.RequestShutdown("shutdown endpoint") {
		return c.JSON(http.StatusOK, ShutdownResponse{
			Success: false,
			Error:   "already_shutting_down",
			Message: "Already shutting down",
		})
	}
	return c.JSON(http.StatusOK, ShutdownResponse{
		Success: true,
		Message: "Server shutting down",
	})
}

// GET /logs
func (s *Server) handleLogs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"items": s.opts.Logs.Recent()})
}
