package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/api"
	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/profile"
)

// Server serves the control API on the wallet's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// Services are the control API handler groups.
type Services struct {
	fx.In

	Session  *api.SessionService
	Chats    *api.ChatService
	Messages *api.MessageService
	Sync     *api.SyncService
}

// NewServer creates the control server bound to the wallet's socket.
func NewServer(p Params, cfg *config.Config, logger *zap.Logger, svc Services) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Wallet)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	for _, r := range []interface{ Register(gin.IRoutes) }{svc.Session, svc.Chats, svc.Messages, svc.Sync} {
		r.Register(router)
	}

	timeout := cfg.Control.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       timeout,
		},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("control request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// SocketPath returns where the server listens.
func (s *Server) SocketPath() string { return s.socketPath }

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	_ = os.Remove(s.socketPath)
}
