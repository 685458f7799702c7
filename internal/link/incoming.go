package link

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/relay"
)

func (l *Link) handleFrame(f relay.Frame) {
	switch f.Event {
	case relay.EventMessages:
		var msgs []chat.Message
		if err := f.Decode(&msgs); err != nil {
			l.log.Warn("bad messages frame", zap.Error(err))
			return
		}
		stored := 0
		for _, m := range msgs {
			if l.receive(m) {
				stored++
			}
		}
		l.log.Info("received queued messages", zap.Int("count", len(msgs)), zap.Int("stored", stored))
	case relay.EventMessage:
		var d relay.PushData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			l.log.Warn("bad message frame", zap.Error(err))
			return
		}
		l.receive(d.Message)
	default:
		l.log.Debug("ignoring frame", zap.String("event", f.Event))
	}
}

// Receive ingests one message that arrived from the relay and reports
// whether it was new.
func (l *Link) Receive(m chat.Message) bool { return l.receive(m) }

func (l *Link) receive(m chat.Message) bool {
	author, err := chat.Author(&m)
	if err != nil {
		l.log.Warn("dropping message", zap.String("msg_id", m.ID), zap.Error(err))
		return false
	}
	if author == l.owner {
		return false
	}
	if p, err := chat.ParseChatID(m.ChatID); err != nil || !p.Has(l.owner) {
		l.log.Warn("dropping message for another wallet", zap.String("msg_id", m.ID), zap.String("chat_id", m.ChatID))
		return false
	}
	m.SenderAddress = author
	if m.Sender.Name == "" {
		m.Sender = chat.Sender{Name: chat.ShortAddress(author), Avatar: chat.AvatarURL(author)}
	}
	if m.Type == chat.TypeGift && m.GiftData != nil {
		m.Text = chat.GiftText(l.store.DisplayName(author), m.GiftData)
	}
	m.IsSent = false
	m.SetRead(false)

	// The same id can arrive from the socket and from a catch-up at once;
	// only the call that adds it surfaces it.
	added, err := l.store.AddMessage(l.owner, m)
	if err != nil {
		l.log.Error("store incoming message", zap.String("msg_id", m.ID), zap.Error(err))
		return false
	}
	if !added {
		return false
	}
	l.log.Debug("message received", zap.String("msg_id", m.ID), zap.String("chat_id", m.ChatID))
	if l.bus != nil {
		l.bus.Emit(bus.KindRelayMessage, m)
	}
	l.fanOut(m)
	return true
}

// Subscribe returns a channel of newly received messages. A subscriber whose
// buffer is full misses messages; the store still has them. The returned
// func unsubscribes and closes the channel.
func (l *Link) Subscribe(buf int) (<-chan chat.Message, func()) {
	ch := make(chan chat.Message, buf)
	l.subMu.Lock()
	id := l.subSeq
	l.subSeq++
	l.subs[id] = ch
	l.subMu.Unlock()

	return ch, func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
	}
}

func (l *Link) fanOut(m chat.Message) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- m:
		default:
		}
	}
}
