// Package link keeps a wallet connected to the relay and moves messages
// between the relay and the local store.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/relay"
	"github.com/penguinchat/penguinchat/internal/status"
	"github.com/penguinchat/penguinchat/internal/store"
)

// ErrNotRunning is returned by Stop when Start was never called.
var ErrNotRunning = errors.New("link not running")

// Options configure the connection.
type Options struct {
	// URL is the relay websocket endpoint, HTTPURL its REST base.
	URL     string
	HTTPURL string

	// ReconnectDelay is the wait between attempts. When ReconnectMaxDelay is
	// set the wait grows exponentially from ReconnectDelay up to that cap.
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	PingInterval time.Duration
	SendTimeout  time.Duration

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

func (o *Options) defaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.SendTimeout}
	}
}

// Link is one wallet's relay connection.
type Link struct {
	owner   string
	opts    Options
	store   *store.Store
	bus     *bus.Bus
	machine *status.Machine
	log     *zap.Logger

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	subMu  sync.Mutex
	subs   map[uint64]chan chat.Message
	subSeq uint64

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// New creates a link for owner. machine tracks the connection state and is
// expected to start Disconnected.
func New(owner string, st *store.Store, b *bus.Bus, machine *status.Machine, log *zap.Logger, opts Options) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	opts.defaults()
	return &Link{
		owner:   owner,
		opts:    opts,
		store:   st,
		bus:     b,
		machine: machine,
		log:     log.With(zap.String("wallet", owner)),
		subs:    make(map[uint64]chan chat.Message),
		now:     time.Now,
	}
}

// Owner returns the wallet this link serves.
func (l *Link) Owner() string { return l.owner }

// Status returns the connection state.
func (l *Link) Status() status.State { return l.machine.Current() }

// Start runs the connection loop in the background until Stop or ctx ends.
func (l *Link) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.run(ctx)
	}()
}

// Stop ends the loop and closes the socket.
func (l *Link) Stop() error {
	if l.cancel == nil {
		return ErrNotRunning
	}
	l.cancel()
	l.closeConn()
	<-l.done
	return nil
}

func (l *Link) newBackOff() backoff.BackOff {
	if l.opts.ReconnectMaxDelay <= 0 {
		return backoff.NewConstantBackOff(l.opts.ReconnectDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.ReconnectDelay
	b.MaxInterval = l.opts.ReconnectMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (l *Link) run(ctx context.Context) {
	wait := l.newBackOff()
	for {
		joined, err := l.session(ctx)
		l.machine.Drop()
		if ctx.Err() != nil {
			return
		}
		if joined {
			wait.Reset()
		}
		if err != nil {
			l.log.Warn("relay connection lost", zap.Error(err))
			if !joined {
				if n, cerr := l.CatchUp(ctx); cerr != nil {
					l.log.Debug("catch-up failed", zap.Error(cerr))
				} else if n > 0 {
					l.log.Info("caught up over http", zap.Int("messages", n))
				}
			}
		}

		delay := wait.NextBackOff()
		l.log.Info("reconnecting", zap.Duration("in", delay))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connection from dial to disconnect. joined reports
// whether the join frame made it out.
func (l *Link) session(ctx context.Context) (joined bool, err error) {
	if err := l.machine.Transition(status.Connecting); err != nil {
		return false, err
	}
	conn, _, err := l.opts.Dialer.DialContext(ctx, l.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", l.opts.URL, err)
	}
	l.setConn(conn)
	defer l.closeConn()
	if err := l.machine.Transition(status.Connected); err != nil {
		return false, err
	}

	stop := context.AfterFunc(ctx, l.closeConn)
	defer stop()

	join, err := relay.NewFrame(relay.EventJoin, relay.JoinData{UserAddress: l.owner})
	if err != nil {
		return false, err
	}
	if err := l.write(conn, join); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}
	if err := l.machine.Transition(status.Joined); err != nil {
		return true, err
	}
	l.log.Info("joined relay", zap.String("url", l.opts.URL))

	if l.opts.PingInterval > 0 {
		wait := 2 * l.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wait))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(l.opts.SendTimeout))
		})
	}

	for {
		var f relay.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, nil
			}
			return true, err
		}
		if l.opts.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * l.opts.PingInterval))
		}
		l.handleFrame(f)
	}
}

func (l *Link) setConn(c *websocket.Conn) {
	l.connMu.Lock()
	l.conn = c
	l.connMu.Unlock()
}

func (l *Link) currentConn() *websocket.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

func (l *Link) closeConn() {
	l.connMu.Lock()
	c := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if c != nil {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.Close()
	}
}

func (l *Link) write(conn *websocket.Conn, f relay.Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(l.opts.SendTimeout))
	return conn.WriteJSON(f)
}
