package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/chat"
)

// Options configure the relay server.
type Options struct {
	Listen       string
	PingInterval time.Duration
}

// Server is the relay's HTTP surface: the websocket endpoint plus the
// backup and message REST routes.
type Server struct {
	hub      *Hub
	uploader *backup.Uploader
	scanner  *backup.Scanner
	log      *zap.Logger
	opts     Options

	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
	base     context.Context
	cancel   context.CancelFunc
}

// Response is the envelope of every JSON reply that is not one of the
// fixed shapes the web client expects.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// NewServer wires the routes. uploader and scanner may be nil, in which case
// the backup routes answer 503.
func NewServer(hub *Hub, uploader *backup.Uploader, scanner *backup.Scanner, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		hub:      hub,
		uploader: uploader,
		scanner:  scanner,
		log:      log,
		opts:     opts,
		router:   router,
		server:   &http.Server{Addr: opts.Listen, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		base:   base,
		cancel: cancel,
	}
	s.registerRoutes(router)
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/ws", s.handleWS)
	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/backup", s.handleUpload)
		api.GET("/backup/:blobId", s.handleDownload)
		api.GET("/user-blobs/:address", s.handleUserBlobs)
		api.GET("/penguinchat-backups/:address", s.handleBackups)
		api.POST("/messages/send", s.handleSend)
		api.GET("/messages/:address/sync", s.handleSync)
		api.GET("/user/:address/status", s.handleUserStatus)
		api.GET("/users/online", s.handleOnline)
	}
}

// Serve accepts connections on l until Stop.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("relay listening", zap.String("addr", l.Addr().String()))
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes live websocket sessions and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := newPeer(conn, s.opts.PingInterval, s.log)
	p.log.Debug("connection opened", zap.String("remote", c.Request.RemoteAddr))

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			p.Kick("server shutting down")
		case <-p.closed:
		}
	}()
	go p.writeLoop()
	p.readLoop(ctx, s.hub)
}

func fail(c *gin.Context, code int, err error, msg string) {
	body := Response{Success: false, Message: msg}
	if err != nil {
		body.Error = err.Error()
	} else {
		body.Error = msg
	}
	c.JSON(code, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "ok",
		"blobClientInitialized": s.uploader != nil,
		"registryInitialized":   s.scanner != nil,
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
	})
}

type uploadRequest struct {
	BackupData json.RawMessage `json:"backupData"`
	Owner      string          `json:"owner"`
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.uploader == nil {
		fail(c, http.StatusServiceUnavailable, nil, "blob client not initialized")
		return
	}
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err, "invalid request body")
		return
	}
	if len(req.BackupData) == 0 || string(req.BackupData) == "null" {
		fail(c, http.StatusBadRequest, nil, "backupData is required")
		return
	}
	v := backup.Validate(req.BackupData)
	if !v.Valid {
		fail(c, http.StatusBadRequest, errors.New(v.Detail), "invalid backup data: "+string(v.Reason))
		return
	}

	out, err := s.uploader.PublishData(c.Request.Context(), req.Owner, v.Data)
	if errors.Is(err, blob.ErrRetryable) {
		s.log.Warn("upload failed, retrying once", zap.Error(err))
		out, err = s.uploader.PublishData(c.Request.Context(), req.Owner, v.Data)
	}
	if err != nil {
		s.log.Error("upload failed", zap.String("wallet", req.Owner), zap.Error(err))
		fail(c, http.StatusBadGateway, err, "failed to upload backup")
		return
	}
	s.log.Info("stored backup", zap.String("wallet", req.Owner), zap.String("blob_id", out.BlobID), zap.Int("messages", out.MessageCount))
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"blobId":     out.BlobID,
		"blobObject": out.Object,
		"timestamp":  out.Timestamp.UnixMilli(),
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	if s.scanner == nil {
		fail(c, http.StatusServiceUnavailable, nil, "blob client not initialized")
		return
	}
	id := c.Param("blobId")
	raw, err := s.scanner.Fetch(c.Request.Context(), id)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		fail(c, http.StatusNotFound, err, "backup not found")
		return
	case err != nil:
		fail(c, http.StatusBadGateway, err, "failed to download backup")
		return
	}
	if !json.Valid(raw) {
		fail(c, http.StatusUnprocessableEntity, nil, "blob is not JSON")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "backupData": json.RawMessage(raw)})
}

func (s *Server) handleUserBlobs(c *gin.Context) {
	if s.scanner == nil {
		fail(c, http.StatusServiceUnavailable, nil, "registry not initialized")
		return
	}
	objs, err := s.scanner.Objects(c.Request.Context(), c.Param("address"))
	if err != nil {
		fail(c, http.StatusBadGateway, err, "failed to list owned blobs")
		return
	}
	blobs := make([]json.RawMessage, 0, len(objs))
	for _, o := range objs {
		if len(o.Raw) > 0 {
			blobs = append(blobs, o.Raw)
			continue
		}
		raw, err := json.Marshal(o)
		if err != nil {
			continue
		}
		blobs = append(blobs, raw)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "blobs": blobs})
}

type backupEntry struct {
	ObjectID     string      `json:"objectId"`
	BlobID       string      `json:"blobId"`
	BackupData   backup.Data `json:"backupData"`
	MessageCount int         `json:"messageCount"`
}

func (s *Server) handleBackups(c *gin.Context) {
	if s.scanner == nil {
		fail(c, http.StatusServiceUnavailable, nil, "registry not initialized")
		return
	}
	address := c.Param("address")
	backups := []backupEntry{}
	stats, err := s.scanner.Scan(c.Request.Context(), address, func(f backup.Found) {
		backups = append(backups, backupEntry{
			ObjectID:     f.Object.ID,
			BlobID:       f.BlobID,
			BackupData:   f.Data,
			MessageCount: f.Data.MessageCount(),
		})
	})
	if err != nil {
		fail(c, http.StatusBadGateway, err, "failed to scan backups")
		return
	}
	s.log.Info("listed backups", zap.String("address", address), zap.Int("objects", stats.Objects), zap.Int("valid", stats.Valid))
	c.JSON(http.StatusOK, gin.H{"success": true, "backups": backups})
}

type sendRequest struct {
	Message     chat.Message `json:"message"`
	UserAddress string       `json:"userAddress"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err, "invalid request body")
		return
	}
	if req.UserAddress == "" {
		fail(c, http.StatusBadRequest, nil, "userAddress is required")
		return
	}
	res, err := s.hub.RouteAs(c.Request.Context(), req.UserAddress, req.Message)
	switch {
	case errors.Is(err, chat.ErrInvalidChatID), errors.Is(err, chat.ErrNotParticipant):
		fail(c, http.StatusBadRequest, err, "message cannot be routed")
		return
	case err != nil:
		fail(c, http.StatusServiceUnavailable, err, "relay unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "delivery": res})
}

func (s *Server) handleSync(c *gin.Context) {
	var since time.Time
	if q := c.Query("since"); q != "" {
		ms, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, err, "since must be epoch milliseconds")
			return
		}
		since = time.UnixMilli(ms)
	}
	msgs, err := s.hub.Pending(c.Request.Context(), c.Param("address"), since)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err, "relay unavailable")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}

func (s *Server) handleUserStatus(c *gin.Context) {
	address := c.Param("address")
	online, err := s.hub.IsOnline(c.Request.Context(), address)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err, "relay unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "address": address, "isOnline": online})
}

func (s *Server) handleOnline(c *gin.Context) {
	users, err := s.hub.Online(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err, "relay unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "onlineUsers": users, "count": len(users)})
}
