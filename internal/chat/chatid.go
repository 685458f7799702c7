package chat

import (
	"errors"
	"fmt"
	"strings"
)

const chatIDPrefix = "chat"

var (
	// ErrInvalidChatID is returned when a chat id does not have the form chat_<a>_<b>.
	ErrInvalidChatID = errors.New("invalid chat id")
	// ErrNotParticipant is returned when an address is not part of a chat.
	ErrNotParticipant = errors.New("address is not a participant")
)

// Participants are the two addresses encoded in a chat id. First is always
// the address of whoever created the conversation; the pair is not sorted.
type Participants struct {
	First  string
	Second string
}

// NewChatID builds the chat id for a conversation created by creator with peer.
func NewChatID(creator, peer string) string {
	return chatIDPrefix + "_" + creator + "_" + peer
}

// ParseChatID splits a chat id into its two participant addresses.
func ParseChatID(id string) (Participants, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != chatIDPrefix || parts[1] == "" || parts[2] == "" {
		return Participants{}, fmt.Errorf("%w: %q", ErrInvalidChatID, id)
	}
	return Participants{First: parts[1], Second: parts[2]}, nil
}

// Other returns the participant that is not self.
func (p Participants) Other(self string) (string, error) {
	switch self {
	case p.First:
		return p.Second, nil
	case p.Second:
		return p.First, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotParticipant, self)
}

// Has reports whether addr takes part in the chat.
func (p Participants) Has(addr string) bool {
	return addr == p.First || addr == p.Second
}

// Author returns the address that wrote m: its senderAddress when present,
// otherwise the first participant of its chat id.
func Author(m *Message) (string, error) {
	if m.SenderAddress != "" {
		return m.SenderAddress, nil
	}
	p, err := ParseChatID(m.ChatID)
	if err != nil {
		return "", err
	}
	return p.First, nil
}
