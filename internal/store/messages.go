package store

import (
	"fmt"
	"slices"

	"github.com/penguinchat/penguinchat/internal/chat"
)

func (s *Store) loadMessages(owner string) ([]chat.Message, error) {
	var msgs []chat.Message
	if _, err := s.getJSON(messagesKey(owner), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SaveMessage writes m into the owner's log and refreshes the summary of its
// chat. A message whose id is already logged replaces the stored copy, so
// saving the same message again never duplicates it.
func (s *Store) SaveMessage(owner string, m chat.Message) error {
	p, err := chat.ParseChatID(m.ChatID)
	if err != nil {
		return fmt.Errorf("save message %q: %w", m.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.loadMessages(owner)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(msgs, func(x chat.Message) bool { return x.ID == m.ID })
	isNew := idx < 0
	if isNew {
		msgs = append(msgs, m)
	} else {
		msgs[idx] = m
	}
	if err := s.putJSON(messagesKey(owner), msgs); err != nil {
		return err
	}
	return s.upsertSummary(owner, p, m, isNew)
}

// MergeMessages appends the messages whose ids are not logged yet and leaves
// known ids untouched. It returns the messages that were added. The whole
// merge runs under one lock, so concurrent merges of the same id add it once.
func (s *Store) MergeMessages(owner string, in []chat.Message) ([]chat.Message, error) {
	parts := make([]chat.Participants, len(in))
	for i, m := range in {
		p, err := chat.ParseChatID(m.ChatID)
		if err != nil {
			return nil, fmt.Errorf("merge message %q: %w", m.ID, err)
		}
		parts[i] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.loadMessages(owner)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		known[m.ID] = struct{}{}
	}

	var added []chat.Message
	var addedParts []chat.Participants
	for i, m := range in {
		if _, ok := known[m.ID]; ok {
			continue
		}
		known[m.ID] = struct{}{}
		added = append(added, m)
		addedParts = append(addedParts, parts[i])
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := s.putJSON(messagesKey(owner), append(msgs, added...)); err != nil {
		return nil, err
	}
	for i, m := range added {
		if err := s.upsertSummary(owner, addedParts[i], m, true); err != nil {
			return added[:i], err
		}
	}
	return added, nil
}

// AddMessage stores m unless its id is already logged and reports whether it
// was added.
func (s *Store) AddMessage(owner string, m chat.Message) (bool, error) {
	added, err := s.MergeMessages(owner, []chat.Message{m})
	return len(added) == 1, err
}

// AllMessages returns the owner's full log in insertion order.
func (s *Store) AllMessages(owner string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMessages(owner)
}

// MessagesByChat returns the messages of one chat, oldest first.
func (s *Store) MessagesByChat(owner, chatID string) ([]chat.Message, error) {
	all, err := s.AllMessages(owner)
	if err != nil {
		return nil, err
	}
	var out []chat.Message
	for _, m := range all {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b chat.Message) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

// HasMessage reports whether id is already in the owner's log.
func (s *Store) HasMessage(owner, id string) (bool, error) {
	all, err := s.AllMessages(owner)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(all, func(m chat.Message) bool { return m.ID == id }), nil
}

// MessageCount returns the size of the owner's log.
func (s *Store) MessageCount(owner string) (int, error) {
	all, err := s.AllMessages(owner)
	return len(all), err
}

// UpdateMessageStatus changes the delivery status of one message.
func (s *Store) UpdateMessageStatus(owner, id string, status chat.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.loadMessages(owner)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(msgs, func(m chat.Message) bool { return m.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	msgs[idx].Status = status
	return s.putJSON(messagesKey(owner), msgs)
}
