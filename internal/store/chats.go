package store

import (
	"slices"

	"github.com/penguinchat/penguinchat/internal/chat"
)

const previewLen = 100

func (s *Store) loadChats(owner string) ([]chat.Summary, bool, error) {
	var chats []chat.Summary
	ok, err := s.getJSON(chatsKey(owner), &chats)
	return chats, ok, err
}

// upsertSummary folds m into the cached summary of its chat. Caller holds s.mu.
func (s *Store) upsertSummary(owner string, p chat.Participants, m chat.Message, isNew bool) error {
	chats, _, err := s.loadChats(owner)
	if err != nil {
		return err
	}

	other, err := p.Other(owner)
	if err != nil {
		other = p.Second
	}

	idx := slices.IndexFunc(chats, func(c chat.Summary) bool { return c.ID == m.ChatID })
	var sum chat.Summary
	if idx >= 0 {
		sum = chats[idx]
	} else {
		sum = chat.Summary{ID: m.ChatID, Participants: []string{owner, other}}
	}
	if idx < 0 || !m.Timestamp.Before(sum.LastMessageTimestamp) {
		sum.LastMessage = truncate(m.Text, previewLen)
		sum.LastMessageTimestamp = m.Timestamp
	}
	if isNew && !m.IsSent && !m.Read() {
		sum.UnreadCount++
	}
	sum.Name = s.displayName(other)
	sum.Avatar = chat.AvatarURL(other)

	if idx >= 0 {
		chats[idx] = sum
	} else {
		chats = append(chats, sum)
	}
	return s.putJSON(chatsKey(owner), chats)
}

// UserChats returns the owner's chat summaries, newest activity first. The
// cached index is used when present, otherwise summaries are derived from
// the message log. Name and avatar always come from the current display-name
// mapping of the other participant, never from what was stored.
func (s *Store) UserChats(owner string) ([]chat.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, ok, err := s.loadChats(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		msgs, err := s.loadMessages(owner)
		if err != nil {
			return nil, err
		}
		chats = synthesizeChats(owner, msgs)
	}

	for i := range chats {
		other := otherParticipant(owner, chats[i])
		chats[i].Name = s.displayName(other)
		chats[i].Avatar = chat.AvatarURL(other)
	}
	slices.SortStableFunc(chats, func(a, b chat.Summary) int {
		return b.LastMessageTimestamp.Compare(a.LastMessageTimestamp)
	})
	return chats, nil
}

// SaveChat replaces the cached summary with the same id, or adds it.
func (s *Store) SaveChat(owner string, sum chat.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, _, err := s.loadChats(owner)
	if err != nil {
		return err
	}
	if idx := slices.IndexFunc(chats, func(c chat.Summary) bool { return c.ID == sum.ID }); idx >= 0 {
		chats[idx] = sum
	} else {
		chats = append(chats, sum)
	}
	return s.putJSON(chatsKey(owner), chats)
}

// MarkChatRead marks every received message of a chat read and clears its unread count.
func (s *Store) MarkChatRead(owner, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.loadMessages(owner)
	if err != nil {
		return err
	}
	for i := range msgs {
		if msgs[i].ChatID == chatID && !msgs[i].IsSent {
			msgs[i].SetRead(true)
		}
	}
	if err := s.putJSON(messagesKey(owner), msgs); err != nil {
		return err
	}

	chats, ok, err := s.loadChats(owner)
	if err != nil || !ok {
		return err
	}
	if idx := slices.IndexFunc(chats, func(c chat.Summary) bool { return c.ID == chatID }); idx >= 0 {
		chats[idx].UnreadCount = 0
		return s.putJSON(chatsKey(owner), chats)
	}
	return nil
}

func synthesizeChats(owner string, msgs []chat.Message) []chat.Summary {
	byID := make(map[string]*chat.Summary)
	var order []string
	for _, m := range msgs {
		p, err := chat.ParseChatID(m.ChatID)
		if err != nil {
			continue
		}
		sum, ok := byID[m.ChatID]
		if !ok {
			other, err := p.Other(owner)
			if err != nil {
				other = p.Second
			}
			sum = &chat.Summary{ID: m.ChatID, Participants: []string{owner, other}}
			byID[m.ChatID] = sum
			order = append(order, m.ChatID)
		}
		if sum.LastMessageTimestamp.IsZero() || !m.Timestamp.Before(sum.LastMessageTimestamp) {
			sum.LastMessage = truncate(m.Text, previewLen)
			sum.LastMessageTimestamp = m.Timestamp
		}
		if !m.IsSent && !m.Read() {
			sum.UnreadCount++
		}
	}
	out := make([]chat.Summary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func otherParticipant(owner string, sum chat.Summary) string {
	if p, err := chat.ParseChatID(sum.ID); err == nil {
		if other, err := p.Other(owner); err == nil {
			return other
		}
		return p.Second
	}
	if len(sum.Participants) == 2 {
		return sum.Participants[1]
	}
	return sum.ID
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
