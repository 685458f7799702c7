package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/link"
	"github.com/penguinchat/penguinchat/internal/store"
	intsync "github.com/penguinchat/penguinchat/internal/sync"
)

// SyncService triggers backups, recovery and relay catch-up, and manages the
// backup schedule.
type SyncService struct {
	wallet     string
	store      *store.Store
	uploader   *backup.Uploader
	scheduler  *backup.Scheduler
	reconciler *intsync.Reconciler
	link       *link.Link
}

// NewSyncService creates a sync service for wallet.
func NewSyncService(wallet string, st *store.Store, up *backup.Uploader, sch *backup.Scheduler, rec *intsync.Reconciler, l *link.Link) *SyncService {
	return &SyncService{wallet: wallet, store: st, uploader: up, scheduler: sch, reconciler: rec, link: l}
}

func (s *SyncService) Register(r gin.IRoutes) {
	r.POST("/backup", s.runBackup)
	r.POST("/recover", s.runRecovery)
	r.POST("/sync", s.catchUp)
	r.GET("/backup/settings", s.getSettings)
	r.PUT("/backup/settings", s.putSettings)
}

func (s *SyncService) runBackup(c *gin.Context) {
	out, err := s.uploader.Backup(c.Request.Context(), s.wallet)
	if err != nil {
		fail(c, err, "backup failed")
		return
	}
	if out.Skipped {
		c.JSON(http.StatusOK, Response{Success: true, Message: "backup already in progress", Data: out})
		return
	}
	ok(c, out)
}

func (s *SyncService) runRecovery(c *gin.Context) {
	rep, err := s.reconciler.Reconcile(c.Request.Context(), s.wallet)
	if err != nil {
		fail(c, err, "recovery failed")
		return
	}
	ok(c, rep)
}

func (s *SyncService) catchUp(c *gin.Context) {
	n, err := s.link.CatchUp(c.Request.Context())
	if err != nil {
		fail(c, err, "sync failed")
		return
	}
	ok(c, gin.H{"received": n})
}

func (s *SyncService) getSettings(c *gin.Context) {
	settings, err := s.store.BackupSettings(s.wallet)
	if err != nil {
		fail(c, err, "read backup settings")
		return
	}
	ok(c, settings)
}

// SettingsRequest is the body of PUT /backup/settings. Absent fields keep
// their current value.
type SettingsRequest struct {
	FrequencyMinutes *int  `json:"frequencyMinutes"`
	AutoBackup       *bool `json:"autoBackup"`
}

func (s *SyncService) putSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.FrequencyMinutes != nil && *req.FrequencyMinutes <= 0 {
		badRequest(c, errors.New("frequencyMinutes must be positive"))
		return
	}
	if req.AutoBackup != nil {
		settings, err := s.store.BackupSettings(s.wallet)
		if err != nil {
			fail(c, err, "read backup settings")
			return
		}
		settings.AutoBackup = *req.AutoBackup
		if err := s.store.SaveBackupSettings(s.wallet, settings); err != nil {
			fail(c, err, "save backup settings")
			return
		}
	}
	if req.FrequencyMinutes != nil {
		if err := s.scheduler.UpdateFrequency(s.wallet, *req.FrequencyMinutes); err != nil {
			fail(c, err, "update backup frequency")
			return
		}
	}
	settings, err := s.store.BackupSettings(s.wallet)
	if err != nil {
		fail(c, err, "read backup settings")
		return
	}
	due, _ := s.store.IsBackupDue(s.wallet, time.Now())
	ok(c, gin.H{"settings": settings, "due": due})
}
