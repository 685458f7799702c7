package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 8 << 20
	peerQueueDepth = 64
)

var peerSeq atomic.Uint64

// wsPeer is a websocket connection. gorilla/websocket allows one concurrent
// writer, so every outbound frame goes through send and writeLoop.
type wsPeer struct {
	id   string
	conn *websocket.Conn
	log  *zap.Logger

	send      chan Frame
	closed    chan struct{}
	closeOnce sync.Once
	kickMsg   atomic.Pointer[string]

	pingInterval time.Duration
}

func newPeer(conn *websocket.Conn, ping time.Duration, log *zap.Logger) *wsPeer {
	id := "peer-" + strconv.FormatUint(peerSeq.Add(1), 10)
	return &wsPeer{
		id:           id,
		conn:         conn,
		log:          log.With(zap.String("peer", id)),
		send:         make(chan Frame, peerQueueDepth),
		closed:       make(chan struct{}),
		pingInterval: ping,
	}
}

func (p *wsPeer) ID() string { return p.id }

// Deliver queues f without blocking the hub.
func (p *wsPeer) Deliver(f Frame) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- f:
		return true
	case <-p.closed:
		return false
	default:
		p.log.Warn("outbound queue full", zap.String("event", f.Event))
		return false
	}
}

// Kick closes the connection with a close frame carrying reason.
func (p *wsPeer) Kick(reason string) {
	p.kickMsg.Store(&reason)
	p.shutdown()
}

func (p *wsPeer) shutdown() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *wsPeer) writeLoop() {
	var ping <-chan time.Time
	if p.pingInterval > 0 {
		t := time.NewTicker(p.pingInterval)
		defer t.Stop()
		ping = t.C
	}
	defer p.conn.Close()

	for {
		select {
		case f := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(f); err != nil {
				p.log.Debug("write failed", zap.Error(err))
				p.shutdown()
				return
			}
		case <-ping:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.log.Debug("ping failed", zap.Error(err))
				p.shutdown()
				return
			}
		case <-p.closed:
			reason := ""
			if r := p.kickMsg.Load(); r != nil {
				reason = *r
			}
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
			if reason == "" {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop handles inbound frames until the connection fails or is kicked.
// The peer always leaves the hub on the way out.
func (p *wsPeer) readLoop(ctx context.Context, h *Hub) {
	defer func() {
		p.shutdown()
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
		defer cancel()
		_ = h.Leave(leaveCtx, p)
	}()

	p.conn.SetReadLimit(maxFrameSize)
	if p.pingInterval > 0 {
		wait := 2 * p.pingInterval
		_ = p.conn.SetReadDeadline(time.Now().Add(wait))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		var f Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			var (
				syntax  *json.SyntaxError
				typeErr *json.UnmarshalTypeError
			)
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				p.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug("read loop ended", zap.Error(err))
			}
			return
		}
		if p.pingInterval > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(2 * p.pingInterval))
		}
		p.dispatch(ctx, h, f)
	}
}

func (p *wsPeer) dispatch(ctx context.Context, h *Hub, f Frame) {
	switch f.Event {
	case EventJoin:
		var d JoinData
		if err := f.Decode(&d); err != nil {
			p.log.Warn("bad join", zap.Error(err))
			return
		}
		if err := h.Join(ctx, p, d.UserAddress); err != nil {
			p.log.Warn("join failed", zap.String("address", d.UserAddress), zap.Error(err))
		}
	case EventSendMessage:
		var d SendData
		if err := f.Decode(&d); err != nil {
			p.log.Warn("bad send_message", zap.Error(err))
			return
		}
		res, err := h.Route(ctx, p, d.Message)
		if err != nil {
			p.log.Warn("dropping message", zap.String("msg_id", d.Message.ID), zap.String("chat_id", d.Message.ChatID), zap.Error(err))
			return
		}
		p.log.Debug("routed message", zap.String("msg_id", d.Message.ID), zap.String("delivery", string(res)))
	default:
		p.log.Debug("ignoring frame", zap.String("event", f.Event))
	}
}
