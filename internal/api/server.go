package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/cfolink/internal/api/auth"
	apimw "github.com/cfolink/internal/api/middleware"
)

// requestLoggerFormat logs ${path} rather than ${uri}: websocket clients
// pass their bearer token as a query parameter, which must never reach
// access logs.
const requestLoggerFormat = `{"time":"${time_rfc3339_nano}","remote_ip":"${remote_ip}","host":"${host}","method":"${method}","path":"${path}","status":${status},"error":"${error}","latency_human":"${latency_human}","bytes_out":${bytes_out}}` + "\n"

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
}

// Options configures the server beyond its handler dependencies.
type Options struct {
	Port              int
	SendRatePerMinute int

	// AttachmentDir, when set, is served read-only under /files.
	AttachmentDir string
}

// NewServer creates a new API server
func NewServer(opts Options, handlers *Handlers, tokenService *auth.TokenService) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(echomw.LoggerWithConfig(echomw.LoggerConfig{Format: requestLoggerFormat}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	e.Validator = NewValidator()

	server := &Server{
		echo: e,
		port: opts.Port,
	}

	server.setupRoutes(opts, handlers, tokenService)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(opts Options, h *Handlers, tokenService *auth.TokenService) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	requireAuth := auth.RequireAuth(tokenService)
	sendLimit := apimw.RateLimitPerUser(opts.SendRatePerMinute)

	// Attachments belong to private threads; fetching them takes the same
	// token as the API that handed out the reference.
	if opts.AttachmentDir != "" {
		files := s.echo.Group("/files", requireAuth)
		files.Static("/", opts.AttachmentDir)
	}

	// API v1 group
	v1 := s.echo.Group("/api/v1", requireAuth)

	v1.GET("/conversations", h.ListConversations)
	v1.POST("/conversations/start", h.StartConversation, sendLimit)
	v1.POST("/conversations/:id/read", h.MarkRead)
	v1.POST("/conversations/:id/archive", h.ArchiveConversation)
	v1.POST("/conversations/:id/block", h.BlockConversation)
	v1.GET("/messages", h.ListMessages)
	v1.POST("/messages", h.SendMessage, sendLimit)
	v1.GET("/unread", h.Unread)
	v1.POST("/attachments", h.UploadAttachment)

	// Live subscriptions
	ws := s.echo.Group("/ws", requireAuth)
	ws.GET("/conversations/:id", h.SubscribeConversation)
	ws.GET("/inbox", h.SubscribeInbox)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
