package link

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/relay"
	"github.com/penguinchat/penguinchat/internal/status"
	"github.com/penguinchat/penguinchat/internal/store"
)

const (
	walletA = "0xa"
	walletB = "0xb"
)

type testRelay struct {
	hub *relay.Hub
	srv *httptest.Server
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := relay.NewHub(0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	s := relay.NewServer(h, nil, nil, zap.NewNop(), relay.Options{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = s.Stop(stopCtx)
		ts.Close()
		cancel()
	})
	return &testRelay{hub: h, srv: ts}
}

func (r *testRelay) wsURL() string { return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws" }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, _, err := store.OpenSQLite(filepath.Join(t.TempDir(), "penguin.db"))
	require.NoError(t, err)
	st := store.New(db)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newLink(t *testing.T, r *testRelay, owner string, st *store.Store) *Link {
	t.Helper()
	b := bus.New()
	l := New(owner, st, b, status.NewMachine(b), zap.NewNop(), Options{
		URL:            r.wsURL(),
		HTTPURL:        r.srv.URL,
		ReconnectDelay: 20 * time.Millisecond,
		SendTimeout:    time.Second,
	})
	return l
}

func startLink(t *testing.T, l *Link) {
	t.Helper()
	l.Start(context.Background())
	t.Cleanup(func() { _ = l.Stop() })
	require.NoError(t, l.WaitJoined(context.Background(), 2*time.Second))
}

func outgoing(text string) chat.Message {
	return chat.Message{Text: text, ChatID: chat.NewChatID(walletA, walletB)}
}

func TestOfflineRecipientGetsQueuedMessages(t *testing.T) {
	r := startRelay(t)
	stA, stB := newStore(t), newStore(t)
	a := newLink(t, r, walletA, stA)
	startLink(t, a)

	ctx := context.Background()
	for _, text := range []string{"A", "B"} {
		m, err := a.Send(ctx, outgoing(text))
		require.NoError(t, err)
		assert.Equal(t, chat.StatusSent, m.Status)
	}
	require.Eventually(t, func() bool {
		p, _ := r.hub.Pending(ctx, walletB, time.Time{})
		return len(p) == 2
	}, 2*time.Second, 10*time.Millisecond)

	sent, err := stA.MessagesByChat(walletA, chat.NewChatID(walletA, walletB))
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.True(t, sent[0].IsSent)
	assert.Equal(t, chat.StatusSent, sent[0].Status)

	b := newLink(t, r, walletB, stB)
	msgs, unsub := b.Subscribe(4)
	defer unsub()
	startLink(t, b)

	var got []string
	for len(got) < 2 {
		select {
		case m := <-msgs:
			assert.False(t, m.IsSent)
			assert.False(t, m.Read())
			assert.Equal(t, walletA, m.SenderAddress)
			got = append(got, m.Text)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %v", got)
		}
	}
	assert.Equal(t, []string{"A", "B"}, got)

	stored, err := stB.MessagesByChat(walletB, chat.NewChatID(walletA, walletB))
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	chats, err := stB.UserChats(walletB)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, 2, chats[0].UnreadCount)
}

func TestLiveDeliveryAndDedupe(t *testing.T) {
	r := startRelay(t)
	stB := newStore(t)
	a := newLink(t, r, walletA, newStore(t))
	b := newLink(t, r, walletB, stB)
	startLink(t, a)
	msgs, unsub := b.Subscribe(4)
	defer unsub()
	startLink(t, b)

	m, err := a.Send(context.Background(), outgoing("hello"))
	require.NoError(t, err)
	select {
	case got := <-msgs:
		assert.Equal(t, m.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no live delivery")
	}

	// The same id arriving again is ignored.
	assert.False(t, b.Receive(m))
	n, err := stB.MessageCount(walletB)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReceiveRules(t *testing.T) {
	r := startRelay(t)
	st := newStore(t)
	b := newLink(t, r, walletB, st)
	chatID := chat.NewChatID(walletA, walletB)

	self := chat.Message{ID: "self", ChatID: chatID, SenderAddress: walletB, Text: "echo"}
	assert.False(t, b.Receive(self))

	foreign := chat.Message{ID: "x", ChatID: chat.NewChatID(walletA, "0xc"), SenderAddress: walletA}
	assert.False(t, b.Receive(foreign))

	// No senderAddress: the first participant is the author.
	anon := chat.Message{ID: "anon", ChatID: chatID, Text: "hi", IsSent: true}
	require.True(t, b.Receive(anon))
	got, err := st.MessagesByChat(walletB, chatID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, walletA, got[0].SenderAddress)
	assert.Equal(t, chat.ShortAddress(walletA), got[0].Sender.Name)
	assert.False(t, got[0].IsSent)

	require.NoError(t, st.SetDisplayName(walletA, "Alice"))
	gift := chat.Message{
		ID: "gift", ChatID: chatID, SenderAddress: walletA, Type: chat.TypeGift, Text: "raw",
		GiftData: &chat.GiftData{Amount: "5", Asset: "SUI", Recipient: walletB},
	}
	require.True(t, b.Receive(gift))
	got, err = st.MessagesByChat(walletB, chatID)
	require.NoError(t, err)
	assert.Equal(t, "Alice gifted you 5 SUI", got[1].Text)
}

func TestConcurrentReceiveSurfacesOnce(t *testing.T) {
	r := startRelay(t)
	st := newStore(t)
	b := newLink(t, r, walletB, st)
	sub, unsub := b.Subscribe(16)
	defer unsub()
	relayed, unsubBus := b.bus.Subscribe(bus.KindRelayMessage, 16)
	defer unsubBus()

	m := chat.Message{ID: "dup", ChatID: chat.NewChatID(walletA, walletB), SenderAddress: walletA, Text: "once"}
	var (
		wg    sync.WaitGroup
		added atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Receive(m) {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, added.Load())
	assert.Len(t, sub, 1)
	assert.Len(t, relayed, 1)
	n, err := st.MessageCount(walletB)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSendFallsBackToHTTP(t *testing.T) {
	r := startRelay(t)
	st := newStore(t)
	a := newLink(t, r, walletA, st)

	m, err := a.Send(context.Background(), outgoing("no socket"))
	require.NoError(t, err)
	assert.Equal(t, chat.StatusSent, m.Status)
	assert.Equal(t, walletA, m.SenderAddress)

	p, err := r.hub.Pending(context.Background(), walletB, time.Time{})
	require.NoError(t, err)
	require.Len(t, p, 1)
	assert.Equal(t, "no socket", p[0].Text)
}

func TestSendFailureMarksFailed(t *testing.T) {
	r := startRelay(t)
	st := newStore(t)
	a := newLink(t, r, walletA, st)
	a.opts.HTTPURL = ""

	m, err := a.Send(context.Background(), outgoing("lost"))
	require.ErrorIs(t, err, ErrNoHTTP)
	got, err := st.MessagesByChat(walletA, m.ChatID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, chat.StatusFailed, got[0].Status)
}

func TestCatchUp(t *testing.T) {
	r := startRelay(t)
	ctx := context.Background()
	for i, text := range []string{"one", "two"} {
		m := outgoing(text)
		m.ID = text
		m.Timestamp = time.UnixMilli(int64(1000 * (i + 1)))
		_, err := r.hub.RouteAs(ctx, walletA, m)
		require.NoError(t, err)
	}

	st := newStore(t)
	b := newLink(t, r, walletB, st)
	n, err := b.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	last, err := st.LastSync(walletB)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), last.UnixMilli())

	n, err = b.CatchUp(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRejoinsAfterEviction(t *testing.T) {
	r := startRelay(t)
	b := newLink(t, r, walletB, newStore(t))
	startLink(t, b)

	changes, unsub := b.bus.Subscribe(bus.KindLinkStatus, 16)
	defer unsub()

	// A second session for the same wallet evicts the link; it comes back.
	other := newLink(t, r, walletB, newStore(t))
	other.Start(context.Background())
	t.Cleanup(func() { _ = other.Stop() })

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-changes:
			if evt.Payload.(status.StatusChange).To == status.Disconnected {
				return
			}
		case <-deadline:
			t.Fatal("link never noticed eviction")
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := startRelay(t)
	l := newLink(t, r, walletA, newStore(t))
	assert.ErrorIs(t, l.Stop(), ErrNotRunning)
	assert.Equal(t, status.Disconnected, l.Status())
}
