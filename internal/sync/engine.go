package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/store"
)

// Batch is the payload of recovery.batch events.
type Batch struct {
	Owner    string
	Messages []chat.Message
}

// BatchResult is the payload of sync.recovery_batch events.
type BatchResult struct {
	Owner   string `json:"owner"`
	Stored  int    `json:"stored"`
	Known   int    `json:"known"`
	Skipped int    `json:"skipped"`
}

// Upserted is the payload of message.upserted events.
type Upserted struct {
	ChatID string
	MsgID  string
}

// Engine merges recovered messages into the local store. A recovered message
// is only added when its id is unknown; the local copy always wins, so
// replaying any number of backups in any order leaves the same log.
type Engine struct {
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(st *store.Store, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, bus: b, logger: logger}
}

// Start ingests recovery.batch events published on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindRecoveryBatch, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	batch, ok := evt.Payload.(Batch)
	if !ok {
		return
	}
	if _, err := e.IngestBatch(batch.Owner, batch.Messages); err != nil {
		e.logger.Error("failed to ingest recovery batch", zap.Error(err), zap.String("wallet", batch.Owner), zap.Int("count", len(batch.Messages)))
	}
}

// IngestMessage stores one recovered message for owner unless it is already known.
func (e *Engine) IngestMessage(owner string, m chat.Message) error {
	_, err := e.merge(owner, []chat.Message{m})
	return err
}

// IngestBatch merges a batch. Messages with an unusable chat id are logged
// and skipped; a storage failure fails the batch.
func (e *Engine) IngestBatch(owner string, msgs []chat.Message) (BatchResult, error) {
	res := BatchResult{Owner: owner}
	valid := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, err := chat.ParseChatID(m.ChatID); err != nil {
			e.logger.Warn("skipping recovered message", zap.String("msg_id", m.ID), zap.Error(err))
			res.Skipped++
			continue
		}
		valid = append(valid, m)
	}

	added, err := e.merge(owner, valid)
	if err != nil {
		return res, err
	}
	res.Stored = added
	res.Known = len(valid) - added

	e.bus.Emit(bus.KindSyncBatch, res)
	e.logger.Info("recovery batch ingested", zap.String("wallet", owner),
		zap.Int("stored", res.Stored), zap.Int("known", res.Known), zap.Int("skipped", res.Skipped))
	return res, nil
}

func (e *Engine) merge(owner string, msgs []chat.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	prepared := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		if m.SenderAddress != "" {
			m.IsSent = m.SenderAddress == owner
		}
		prepared[i] = m
	}
	added, err := e.store.MergeMessages(owner, prepared)
	if err != nil {
		return 0, fmt.Errorf("merge %d messages: %w", len(prepared), err)
	}
	for _, m := range added {
		e.bus.Emit(bus.KindMessageUpsert, Upserted{ChatID: m.ChatID, MsgID: m.ID})
	}
	return len(added), nil
}
