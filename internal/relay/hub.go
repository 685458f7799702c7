package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/chat"
)

var (
	// ErrNotJoined is returned when an unregistered connection tries to send.
	ErrNotJoined = errors.New("connection has not joined")
	// ErrHubClosed is returned once the dispatcher has stopped.
	ErrHubClosed = errors.New("relay hub closed")
)

// Peer is one live client connection.
type Peer interface {
	ID() string
	// Deliver queues f for the client and reports whether it was accepted.
	Deliver(f Frame) bool
	// Kick disconnects the client.
	Kick(reason string)
}

// Delivery says what happened to a routed message.
type Delivery string

const (
	Delivered Delivery = "delivered"
	Queued    Delivery = "queued"
)

// Hub owns the online registrations and the offline mailboxes. Both maps are
// only touched by the dispatcher goroutine started with Run; every exported
// method hands a closure to it and waits for the result.
type Hub struct {
	ops  chan func()
	done chan struct{}

	online  map[string]Peer   // address -> live peer
	joined  map[string]string // peer id -> address
	mailbox map[string][]chat.Message
	limit   int

	log *zap.Logger
}

// NewHub creates a hub whose mailboxes hold at most limit messages each.
// A limit of 0 leaves mailboxes unbounded.
func NewHub(limit int, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		ops:     make(chan func()),
		done:    make(chan struct{}),
		online:  make(map[string]Peer),
		joined:  make(map[string]string),
		mailbox: make(map[string][]chat.Message),
		limit:   limit,
		log:     log,
	}
}

// Run dispatches operations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) do(ctx context.Context, op func()) error {
	finished := make(chan struct{})
	select {
	case h.ops <- func() { op(); close(finished) }:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted the op always runs to completion.
	<-finished
	return nil
}

// Join registers p under address. A different peer already registered for
// the address is kicked. Queued messages are delivered as one batch, in the
// order they arrived, and the mailbox is cleared.
func (h *Hub) Join(ctx context.Context, p Peer, address string) error {
	if address == "" {
		return errors.New("join: empty address")
	}
	return h.do(ctx, func() {
		if prev, ok := h.joined[p.ID()]; ok && prev != address {
			h.release(p, prev)
		}
		if stale, ok := h.online[address]; ok && stale.ID() != p.ID() {
			delete(h.joined, stale.ID())
			stale.Kick("replaced by a newer connection")
			h.log.Info("evicted stale connection", zap.String("address", address), zap.String("peer", stale.ID()))
		}
		h.online[address] = p
		h.joined[p.ID()] = address
		h.log.Info("user joined", zap.String("address", address), zap.String("peer", p.ID()))
		h.flush(p, address)
	})
}

func (h *Hub) flush(p Peer, address string) {
	queued := h.mailbox[address]
	if len(queued) == 0 {
		return
	}
	f, err := batchFrame(queued)
	if err != nil {
		h.log.Error("encode mailbox", zap.String("address", address), zap.Error(err))
		return
	}
	if !p.Deliver(f) {
		h.log.Warn("mailbox flush refused, keeping messages", zap.String("address", address), zap.Int("count", len(queued)))
		return
	}
	delete(h.mailbox, address)
	h.log.Info("delivered mailbox", zap.String("address", address), zap.Int("count", len(queued)))
}

func (h *Hub) release(p Peer, address string) {
	if cur, ok := h.online[address]; ok && cur.ID() == p.ID() {
		delete(h.online, address)
	}
	delete(h.joined, p.ID())
}

// Leave drops p's registration, if any.
func (h *Hub) Leave(ctx context.Context, p Peer) error {
	return h.do(ctx, func() {
		if address, ok := h.joined[p.ID()]; ok {
			h.release(p, address)
			h.log.Info("user left", zap.String("address", address), zap.String("peer", p.ID()))
		}
	})
}

// Route forwards m from p. The sender is whoever p joined as; the sender
// address claimed inside m is overwritten.
func (h *Hub) Route(ctx context.Context, p Peer, m chat.Message) (Delivery, error) {
	var (
		res Delivery
		err error
	)
	if opErr := h.do(ctx, func() {
		sender, ok := h.joined[p.ID()]
		if !ok {
			err = ErrNotJoined
			return
		}
		res, err = h.route(sender, m)
	}); opErr != nil {
		return "", opErr
	}
	return res, err
}

// RouteAs forwards m on behalf of address, for clients sending over HTTP.
func (h *Hub) RouteAs(ctx context.Context, address string, m chat.Message) (Delivery, error) {
	var (
		res Delivery
		err error
	)
	if opErr := h.do(ctx, func() { res, err = h.route(address, m) }); opErr != nil {
		return "", opErr
	}
	return res, err
}

func (h *Hub) route(sender string, m chat.Message) (Delivery, error) {
	parts, err := chat.ParseChatID(m.ChatID)
	if err != nil {
		return "", err
	}
	recipient, err := parts.Other(sender)
	if err != nil {
		return "", fmt.Errorf("%s in %s: %w", sender, m.ChatID, err)
	}
	m.SenderAddress = sender

	if p, ok := h.online[recipient]; ok {
		f, err := pushFrame(m)
		if err != nil {
			return "", err
		}
		if p.Deliver(f) {
			return Delivered, nil
		}
		h.log.Warn("live delivery refused, queueing", zap.String("address", recipient), zap.String("msg_id", m.ID))
	}
	h.enqueue(recipient, m)
	return Queued, nil
}

func (h *Hub) enqueue(address string, m chat.Message) {
	box := append(h.mailbox[address], m)
	if h.limit > 0 && len(box) > h.limit {
		dropped := box[:len(box)-h.limit]
		for _, d := range dropped {
			h.log.Warn("mailbox full, dropped oldest", zap.String("address", address), zap.String("msg_id", d.ID))
		}
		box = slices.Clone(box[len(box)-h.limit:])
	}
	h.mailbox[address] = box
}

// IsOnline reports whether address has a live registration.
func (h *Hub) IsOnline(ctx context.Context, address string) (bool, error) {
	var online bool
	err := h.do(ctx, func() { _, online = h.online[address] })
	return online, err
}

// Online lists registered addresses, sorted.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	var out []string
	err := h.do(ctx, func() {
		out = make([]string, 0, len(h.online))
		for addr := range h.online {
			out = append(out, addr)
		}
	})
	slices.Sort(out)
	return out, err
}

// Pending returns queued messages for address newer than since without
// removing them. A zero since returns everything.
func (h *Hub) Pending(ctx context.Context, address string, since time.Time) ([]chat.Message, error) {
	var out []chat.Message
	err := h.do(ctx, func() {
		for _, m := range h.mailbox[address] {
			if since.IsZero() || m.Timestamp.After(since) {
				out = append(out, m)
			}
		}
	})
	return out, err
}

// Stats is a snapshot of hub occupancy.
type Stats struct {
	Online    int `json:"online"`
	Queued    int `json:"queued"`
	Mailboxes int `json:"mailboxes"`
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.do(ctx, func() {
		s.Online = len(h.online)
		s.Mailboxes = len(h.mailbox)
		for _, box := range h.mailbox {
			s.Queued += len(box)
		}
	})
	return s, err
}
