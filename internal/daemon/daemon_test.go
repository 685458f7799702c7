package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/penguinchat/penguinchat/internal/api"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/control"
	"github.com/penguinchat/penguinchat/internal/lock"
	"github.com/penguinchat/penguinchat/internal/profile"
	"github.com/penguinchat/penguinchat/internal/status"
)

const (
	walletA = "0xa"
	walletB = "0xb"
)

// shortHome keeps socket paths under the 104-char Unix socket limit on macOS.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "penguin-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
	return dir
}

func startRelay(t *testing.T) *config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Relay.URL = "ws://" + l.Addr().String() + "/ws"
	cfg.Relay.HTTPURL = "http://" + l.Addr().String()
	cfg.Relay.ReconnectDelay = 50 * time.Millisecond
	cfg.Relay.PingInterval = time.Second
	cfg.Backup.RecoverOnStart = false

	app := fxtest.New(t, RelayModule(RelayParams{Config: cfg, Listener: l}))
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config, wallet string) *control.Client {
	t.Helper()
	app := fxtest.New(t, ClientModule(Params{Wallet: wallet, Config: cfg}))
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	c := control.Dial(profile.SocketPath(wallet), 5*time.Second)
	require.Eventually(t, func() bool {
		st, err := c.Status(context.Background())
		return err == nil && st.Link == status.Joined
	}, 5*time.Second, 20*time.Millisecond)
	return c
}

func TestDaemonsExchangeMessages(t *testing.T) {
	shortHome(t)
	cfg := startRelay(t)
	ctx := context.Background()

	a := startDaemon(t, cfg, walletA)
	b := startDaemon(t, cfg, walletB)

	info, err := os.Stat(profile.SocketPath(walletA))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	m, err := a.Send(ctx, api.SendRequest{Peer: walletB, Text: "hello b"})
	require.NoError(t, err)
	assert.Equal(t, chat.StatusSent, m.Status)
	assert.Equal(t, chat.NewChatID(walletA, walletB), m.ChatID)

	var chats []chat.Summary
	require.Eventually(t, func() bool {
		chats, err = b.Chats(ctx)
		return err == nil && len(chats) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "hello b", chats[0].LastMessage)
	assert.Equal(t, 1, chats[0].UnreadCount)

	require.NoError(t, b.SetName(ctx, walletA, "Alice"))
	chats, err = b.Chats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", chats[0].Name)

	require.NoError(t, b.MarkRead(ctx, chats[0].ID))
	msgs, err := b.Messages(ctx, chats[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read())
	assert.False(t, msgs[0].IsSent)

	_, err = a.Send(ctx, api.SendRequest{ChatID: "chat_0xc_0xd", Text: "nope"})
	var cerr *control.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 400, cerr.Status)
}

func TestDaemonBackupAndRecover(t *testing.T) {
	shortHome(t)
	cfg := startRelay(t)
	ctx := context.Background()
	a := startDaemon(t, cfg, walletA)

	_, err := a.Send(ctx, api.SendRequest{Peer: walletB, Text: "keep me"})
	require.NoError(t, err)

	out, err := a.Backup(ctx)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.NotEmpty(t, out.BlobID)
	assert.Equal(t, 1, out.MessageCount)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastBackup)

	rep, err := a.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scan.Valid)
	assert.Equal(t, 1, rep.Recovered)

	msgs, err := a.Messages(ctx, chat.NewChatID(walletA, walletB))
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDaemonBackupSettings(t *testing.T) {
	shortHome(t)
	cfg := startRelay(t)
	ctx := context.Background()
	a := startDaemon(t, cfg, walletA)

	got, err := a.BackupSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, chat.DefaultBackupSettings(), got)

	freq, auto := 15, false
	got, err = a.UpdateBackupSettings(ctx, api.SettingsRequest{FrequencyMinutes: &freq, AutoBackup: &auto})
	require.NoError(t, err)
	assert.Equal(t, 15, got.FrequencyMinutes)
	assert.False(t, got.AutoBackup)

	zero := 0
	_, err = a.UpdateBackupSettings(ctx, api.SettingsRequest{FrequencyMinutes: &zero})
	require.Error(t, err)
}

func TestSecondDaemonForWalletFails(t *testing.T) {
	shortHome(t)
	cfg := startRelay(t)
	startDaemon(t, cfg, walletA)

	app := fx.New(ClientModule(Params{
		Wallet:     walletA,
		Config:     cfg,
		SocketPath: filepath.Join(profile.Dir(walletA), "second.sock"),
	}), fx.NopLogger)
	err := app.Err()
	require.Error(t, err)
	var held *lock.LockHeldError
	assert.True(t, errors.As(err, &held), err.Error())
}
