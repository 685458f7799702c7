package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/status"
	"github.com/penguinchat/penguinchat/internal/store"
)

// SessionService reports on the running daemon.
type SessionService struct {
	wallet    string
	startedAt time.Time
	machine   *status.Machine
	store     *store.Store
	uploader  *backup.Uploader
}

// NewSessionService creates a session service for wallet.
func NewSessionService(wallet string, machine *status.Machine, st *store.Store, up *backup.Uploader) *SessionService {
	return &SessionService{wallet: wallet, startedAt: time.Now(), machine: machine, store: st, uploader: up}
}

// SessionStatus is the body of GET /status.
type SessionStatus struct {
	Wallet         string       `json:"wallet"`
	Link           status.State `json:"link"`
	LinkSince      time.Time    `json:"linkSince"`
	UptimeMs       int64        `json:"uptimeMs"`
	ChatCount      int          `json:"chatCount"`
	MessageCount   int          `json:"messageCount"`
	LastSync       *time.Time   `json:"lastSync,omitempty"`
	LastBackup     *time.Time   `json:"lastBackup,omitempty"`
	BackupInFlight bool         `json:"backupInFlight"`
}

func (s *SessionService) Register(r gin.IRoutes) {
	r.GET("/status", s.getStatus)
}

func (s *SessionService) getStatus(c *gin.Context) {
	resp := SessionStatus{
		Wallet:    s.wallet,
		Link:      s.machine.Current(),
		LinkSince: s.machine.Since(),
		UptimeMs:  time.Since(s.startedAt).Milliseconds(),
	}
	if chats, err := s.store.UserChats(s.wallet); err == nil {
		resp.ChatCount = len(chats)
	}
	if n, err := s.store.MessageCount(s.wallet); err == nil {
		resp.MessageCount = n
	}
	if t, err := s.store.LastSync(s.wallet); err == nil && !t.IsZero() {
		resp.LastSync = &t
	}
	if settings, err := s.store.BackupSettings(s.wallet); err == nil && settings.LastBackupTimestamp > 0 {
		t := time.UnixMilli(settings.LastBackupTimestamp)
		resp.LastBackup = &t
	}
	if s.uploader != nil {
		resp.BackupInFlight = s.uploader.InFlight(s.wallet)
	}
	ok(c, resp)
}
