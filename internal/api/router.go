package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/codespace/internal/audit"
	"github.com/opensandbox/codespace/internal/auth"
	"github.com/opensandbox/codespace/internal/collab"
	"github.com/opensandbox/codespace/internal/completion"
	"github.com/opensandbox/codespace/internal/credentials"
	"github.com/opensandbox/codespace/internal/gateway"
	"github.com/opensandbox/codespace/internal/metrics"
	"github.com/opensandbox/codespace/internal/runner"
	"github.com/opensandbox/codespace/internal/storage"
	"github.com/opensandbox/codespace/internal/stream"
)

// Deps are the collaborators the HTTP API serves. Audit may be nil.
type Deps struct {
	APIKey string

	Runner            *runner.Runner
	DefaultWorkingDir string
	DefaultTimeout    time.Duration
	MaxTimeout        time.Duration

	Registry    *collab.Registry
	Broadcaster *stream.Broadcaster
	Gateway     *gateway.Gateway

	Files     storage.FileStore
	Keys      credentials.Store
	Responder completion.Responder
	Audit     *audit.CommandLog
}

// Server holds the API server dependencies.
type Server struct {
	echo *echo.Echo
	deps Deps
}

// NewServer creates a new API server with all routes configured.
func NewServer(deps Deps) *Server {
	if deps.DefaultWorkingDir == "" {
		deps.DefaultWorkingDir = runner.DefaultWorkingDir
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = runner.DefaultTimeout
	}
	if deps.MaxTimeout < deps.DefaultTimeout {
		deps.MaxTimeout = deps.DefaultTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		deps: deps,
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(metrics.EchoMiddleware())

	// Health check and metrics (no auth)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// API routes (with auth)
	api := e.Group("/api")
	api.Use(auth.APIKeyMiddleware(deps.APIKey))

	// Commands
	api.POST("/execute", s.execute)
	api.GET("/commands", s.listCommands)

	// Collaboration
	api.GET("/collab/stream", s.collabStream)
	api.GET("/collab/ws", s.collabWebSocket)
	api.POST("/collab/events", s.submitEvent)
	api.GET("/collab/rooms", s.listRooms)
	api.GET("/collab/rooms/:id", s.getRoom)

	// Workspace files
	api.GET("/files", s.readFile)
	api.PUT("/files", s.writeFile)
	api.DELETE("/files", s.deleteFile)
	api.GET("/files/list", s.listDir)

	// Provider keys
	api.POST("/keys", s.createKey)
	api.GET("/keys", s.listKeys)
	api.DELETE("/keys/:name", s.revokeKey)

	// AI completions
	api.POST("/completions", s.complete)

	return s
}

// ServeHTTP lets the server be mounted on any http.Server or httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.echo.Close()
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
