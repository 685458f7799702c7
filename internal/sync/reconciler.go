package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
)

// Report summarizes one reconciliation.
type Report struct {
	Scan      backup.ScanStats `json:"scan"`
	Recovered int              `json:"recovered"`
	Stored    int              `json:"stored"`
	Known     int              `json:"known"`
	Skipped   int              `json:"skipped"`
}

// Reconciler restores a wallet's log from its remote backups.
type Reconciler struct {
	scanner *backup.Scanner
	engine  *Engine
	bus     *bus.Bus
	logger  *zap.Logger
}

func NewReconciler(sc *backup.Scanner, e *Engine, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{scanner: sc, engine: e, bus: b, logger: logger}
}

// Reconcile scans owner's backups and stores each backup's messages as soon
// as it is found. Only a failed registry query or a store failure is
// returned; unreadable backups are skipped by the scanner.
func (r *Reconciler) Reconcile(ctx context.Context, owner string) (Report, error) {
	var (
		rep      Report
		storeErr error
	)
	msgs, stats, err := r.scanner.Recover(ctx, owner, func(batch []chat.Message) {
		if storeErr != nil {
			return
		}
		res, err := r.engine.IngestBatch(owner, batch)
		rep.Stored += res.Stored
		rep.Known += res.Known
		rep.Skipped += res.Skipped
		storeErr = err
	})
	rep.Scan = stats
	rep.Recovered = len(msgs)
	if err != nil {
		return rep, fmt.Errorf("recover %s: %w", owner, err)
	}
	if storeErr != nil {
		return rep, storeErr
	}

	r.bus.Emit(bus.KindRecoveryDone, rep)
	r.logger.Info("recovery completed",
		zap.String("wallet", owner),
		zap.Int("objects", stats.Objects),
		zap.Int("backups", stats.Valid),
		zap.Int("corrupt", stats.Corrupt),
		zap.Int("messages", rep.Recovered),
		zap.Int("stored", rep.Stored),
	)
	return rep, nil
}
