package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/store"
)

// Scheduler runs automatic backups of one wallet on an interval taken from
// its backup settings.
type Scheduler struct {
	store    *store.Store
	uploader *Uploader
	log      *zap.Logger

	mu     sync.Mutex
	reset  chan time.Duration
	cancel context.CancelFunc
	done   chan struct{}
	unit   time.Duration
}

// NewScheduler creates an idle scheduler.
func NewScheduler(st *store.Store, u *Uploader, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{store: st, uploader: u, log: log, reset: make(chan time.Duration, 1), unit: time.Minute}
}

// Start begins the timer loop for owner.
func (s *Scheduler) Start(ctx context.Context, owner string) error {
	settings, err := s.store.BackupSettings(owner)
	if err != nil {
		return fmt.Errorf("load backup settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, owner, s.interval(settings.FrequencyMinutes))
	return nil
}

// Stop stops the loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// UpdateFrequency persists a new interval for owner and restarts the timer with it.
func (s *Scheduler) UpdateFrequency(owner string, freq int) error {
	if freq <= 0 {
		return fmt.Errorf("frequency must be positive, got %d", freq)
	}
	settings, err := s.store.BackupSettings(owner)
	if err != nil {
		return err
	}
	settings.FrequencyMinutes = freq
	if err := s.store.SaveBackupSettings(owner, settings); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.reset:
	default:
	}
	s.reset <- s.interval(freq)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, owner string, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case at := <-ticker.C:
			s.tick(ctx, owner, at)
		case d := <-s.reset:
			ticker.Reset(d)
			s.log.Info("backup interval changed", zap.String("wallet", owner), zap.Duration("interval", d))
		case <-ctx.Done():
			return
		}
	}
}

// tickSlack absorbs timer jitter between consecutive ticks.
const tickSlack = time.Second

// tick backs up when due. The tick time is both the due-check time and the
// recorded backup time, so ticks one interval apart are always due.
func (s *Scheduler) tick(ctx context.Context, owner string, at time.Time) {
	settings, err := s.store.BackupSettings(owner)
	if err != nil {
		s.log.Error("failed to read backup settings", zap.String("wallet", owner), zap.Error(err))
		return
	}
	if !settings.AutoBackup {
		return
	}
	due, err := s.store.IsBackupDue(owner, at.Add(tickSlack))
	if err != nil {
		s.log.Error("failed to check backup due", zap.String("wallet", owner), zap.Error(err))
		return
	}
	if !due {
		return
	}
	// Upload errors are logged by the uploader; the loop keeps going.
	_, _ = s.uploader.BackupAt(ctx, owner, at)
}

func (s *Scheduler) interval(n int) time.Duration {
	if n <= 0 {
		n = 5
	}
	return time.Duration(n) * s.unit
}
