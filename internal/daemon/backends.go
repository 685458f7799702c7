package daemon

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/ledger"
)

// Backends are the remote stores selected by configuration.
type Backends struct {
	Reader    blob.Reader
	Publisher blob.Publisher
	Registry  ledger.Registry
}

func provideBackends(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}

	switch cfg.Ledger.Backend {
	case "", "memory":
		b.Registry = ledger.NewMemory(cfg.Ledger.BlobType)
	case "sui":
		sui, err := ledger.DialSui(context.Background(), cfg.Ledger.RPCURL, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(sui.Close))
		b.Registry = sui
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	switch cfg.Blob.Backend {
	case "", "memory":
		// In-process blobs are certified straight into the in-process ledger.
		var rec blob.Recorder
		if m, ok := b.Registry.(*ledger.Memory); ok {
			rec = m
		}
		mem := blob.NewMemory(rec)
		b.Reader, b.Publisher = mem, mem
	case "walrus":
		h := blob.NewHTTP(cfg.Blob.PublisherURL, cfg.Blob.AggregatorURL, &http.Client{Timeout: cfg.Backup.CallTimeout})
		b.Reader, b.Publisher = h, h
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}

	logger.Info("backends ready",
		zap.String("blob", cfg.Blob.Backend),
		zap.String("ledger", cfg.Ledger.Backend),
	)
	return b, nil
}

func provideSigner() blob.Signer {
	return &blob.LocalSigner{}
}

func provideScanner(cfg *config.Config, b *Backends, logger *zap.Logger) (*backup.Scanner, error) {
	return backup.NewScanner(b.Registry, b.Reader, logger, backup.ScanOptions{
		BlobType:    cfg.Ledger.BlobType,
		CallTimeout: cfg.Backup.CallTimeout,
		Concurrency: cfg.Backup.ScanConcurrency,
		CacheSize:   cfg.Backup.CacheSize,
	})
}

func uploadOptions(cfg *config.Config) backup.UploadOptions {
	return backup.UploadOptions{
		Epochs:      cfg.Blob.Epochs,
		Deletable:   cfg.Blob.Deletable,
		CallTimeout: cfg.Backup.CallTimeout,
	}
}
