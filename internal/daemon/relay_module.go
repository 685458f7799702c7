package daemon

import (
	"context"
	"net"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/logging"
	"github.com/penguinchat/penguinchat/internal/relay"
)

// RelayParams configure the relay process.
type RelayParams struct {
	Config  *config.Config
	LogPath string // empty = stderr only
	// Listener, when set, replaces cfg.Relay.Listen. Used by tests.
	Listener net.Listener
}

// RelayModule returns the fx module for the relay server.
func RelayModule(p RelayParams) fx.Option {
	return fx.Module("penguin-relay",
		fx.Supply(p),
		fx.Provide(
			func(p RelayParams) *config.Config { return p.Config },
			func(p RelayParams) (*zap.Logger, error) { return logging.New(p.LogPath, "penguin-relay") },
			provideHub,
			provideBackends,
			provideSigner,
			provideRelayUploader,
			provideScanner,
			provideRelayServer,
		),
		fx.WithLogger(zapEventLogger),
		fx.Invoke(registerRelayLifecycle),
	)
}

func provideHub(cfg *config.Config, logger *zap.Logger) *relay.Hub {
	return relay.NewHub(cfg.Relay.MailboxLimit, logger)
}

// The relay keeps no message log, so its uploader only publishes documents
// posted by web clients.
func provideRelayUploader(cfg *config.Config, b *Backends, signer blob.Signer, logger *zap.Logger) *backup.Uploader {
	return backup.NewUploader(nil, b.Publisher, signer, nil, logger, uploadOptions(cfg))
}

func provideRelayServer(cfg *config.Config, h *relay.Hub, up *backup.Uploader, sc *backup.Scanner, logger *zap.Logger) *relay.Server {
	return relay.NewServer(h, up, sc, logger, relay.Options{
		Listen:       cfg.Relay.Listen,
		PingInterval: cfg.Relay.PingInterval,
	})
}

func registerRelayLifecycle(lc fx.Lifecycle, p RelayParams, h *relay.Hub, srv *relay.Server, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go h.Run(ctx)

			l := p.Listener
			if l == nil {
				var err error
				if l, err = net.Listen("tcp", p.Config.Relay.Listen); err != nil {
					cancel()
					return err
				}
			}
			go func() {
				if err := srv.Serve(l); err != nil {
					logger.Error("relay server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			err := srv.Stop(stopCtx)
			cancel()
			logger.Info("relay stopped")
			_ = logger.Sync()
			return err
		},
	})
}
