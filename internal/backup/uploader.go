package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/store"
)

// UploadOptions are the storage parameters and per-call timeout of uploads.
type UploadOptions struct {
	Epochs      int
	Deletable   bool
	CallTimeout time.Duration
}

// Outcome describes one backup attempt. Skipped is set when another backup
// for the same wallet was already running and nothing was done.
type Outcome struct {
	Skipped      bool      `json:"skipped"`
	BlobID       string    `json:"blobId,omitempty"`
	Object       string    `json:"blobObject,omitempty"`
	MessageCount int       `json:"messageCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// Uploader publishes backups of wallet message logs.
type Uploader struct {
	store    *store.Store
	pub      blob.Publisher
	signer   blob.Signer
	bus      *bus.Bus
	log      *zap.Logger
	opts     UploadOptions
	inflight sync.Map
	now      func() time.Time
}

// NewUploader creates an uploader. st may be nil when only PublishData is used.
func NewUploader(st *store.Store, pub blob.Publisher, signer blob.Signer, b *bus.Bus, log *zap.Logger, opts UploadOptions) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Uploader{store: st, pub: pub, signer: signer, bus: b, log: log, opts: opts, now: time.Now}
}

// InFlight reports whether a backup of owner is running.
func (u *Uploader) InFlight(owner string) bool {
	_, busy := u.inflight.Load(owner)
	return busy
}

// Backup snapshots owner's log and publishes it. A concurrent call for the
// same owner returns a skipped outcome and no error. On success the backup
// time is recorded in the owner's settings; on failure nothing is recorded.
func (u *Uploader) Backup(ctx context.Context, owner string) (Outcome, error) {
	return u.BackupAt(ctx, owner, u.now())
}

// BackupAt is Backup with the document and the recorded backup time stamped at.
func (u *Uploader) BackupAt(ctx context.Context, owner string, at time.Time) (Outcome, error) {
	if u.store == nil {
		return Outcome{}, ErrNoStore
	}
	if _, busy := u.inflight.LoadOrStore(owner, struct{}{}); busy {
		u.log.Info("backup already in progress", zap.String("wallet", owner))
		return Outcome{Skipped: true}, nil
	}
	defer u.inflight.Delete(owner)

	msgs, err := u.store.AllMessages(owner)
	if err != nil {
		return Outcome{}, u.fail(owner, fmt.Errorf("read messages: %w", err))
	}
	out, err := u.PublishData(ctx, owner, Encode(msgs, at))
	if err != nil {
		return Outcome{}, u.fail(owner, err)
	}
	if err := u.store.UpdateLastBackupTimestamp(owner, at); err != nil {
		u.log.Warn("record backup time", zap.String("wallet", owner), zap.Error(err))
	}

	u.log.Info("backup completed",
		zap.String("wallet", owner),
		zap.String("blob_id", out.BlobID),
		zap.Int("messages", out.MessageCount),
	)
	if u.bus != nil {
		u.bus.Emit(bus.KindBackupComplete, out)
	}
	return out, nil
}

// PublishData runs the blob flow for an already built document. Each step
// gets its own CallTimeout.
func (u *Uploader) PublishData(ctx context.Context, owner string, d Data) (Outcome, error) {
	payload, err := d.Marshal()
	if err != nil {
		return Outcome{}, fmt.Errorf("encode backup: %w", err)
	}

	flow := u.pub.NewFlow(payload)
	if err := u.step(ctx, "encode", flow.Encode); err != nil {
		return Outcome{}, err
	}

	var tx blob.Transaction
	opts := blob.RegisterOptions{Owner: owner, Epochs: u.opts.Epochs, Deletable: u.opts.Deletable}
	if err := u.step(ctx, "register", func(ctx context.Context) (err error) {
		tx, err = flow.Register(ctx, opts)
		return err
	}); err != nil {
		return Outcome{}, err
	}

	var digest string
	if err := u.step(ctx, "sign register", func(ctx context.Context) (err error) {
		digest, err = u.signer.SignAndExecute(ctx, tx)
		return err
	}); err != nil {
		return Outcome{}, err
	}

	if err := u.step(ctx, "upload", func(ctx context.Context) error { return flow.Upload(ctx, digest) }); err != nil {
		return Outcome{}, err
	}

	if err := u.step(ctx, "certify", func(ctx context.Context) (err error) {
		tx, err = flow.Certify(ctx)
		return err
	}); err != nil {
		return Outcome{}, err
	}
	if err := u.step(ctx, "sign certify", func(ctx context.Context) error {
		_, err := u.signer.SignAndExecute(ctx, tx)
		return err
	}); err != nil {
		return Outcome{}, err
	}

	receipt, err := flow.Result()
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve blob id: %w", err)
	}
	return Outcome{
		BlobID:       receipt.BlobID,
		Object:       receipt.Object,
		MessageCount: d.MessageCount(),
		Timestamp:    time.UnixMilli(d.Timestamp),
	}, nil
}

func (u *Uploader) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, u.opts.CallTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: timed out after %s: %w", name, u.opts.CallTimeout, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (u *Uploader) fail(owner string, err error) error {
	u.log.Error("backup failed", zap.String("wallet", owner), zap.Error(err))
	if u.bus != nil {
		u.bus.Emit(bus.KindBackupFailed, err.Error())
	}
	return err
}
