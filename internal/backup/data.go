// Package backup turns a wallet's message log into tagged backup documents,
// publishes them to the blob store and recovers them from the ownership ledger.
package backup

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/penguinchat/penguinchat/internal/chat"
)

const (
	AppID   = "penguinchat"
	Version = "1.0.0"
)

// ErrNoStore is returned by operations that need a local store when none was configured.
var ErrNoStore = errors.New("backup: no local store")

// Data is the backup document. Timestamp is in epoch milliseconds.
type Data struct {
	Timestamp     int64                     `json:"timestamp"`
	AppID         string                    `json:"appId"`
	Version       string                    `json:"version"`
	Conversations map[string][]chat.Message `json:"conversations"`
	SuiObjectID   string                    `json:"suiObjectId,omitempty"`
}

// Encode groups messages by chat id into a backup taken at now.
func Encode(messages []chat.Message, now time.Time) Data {
	d := Data{
		Timestamp:     now.UnixMilli(),
		AppID:         AppID,
		Version:       Version,
		Conversations: make(map[string][]chat.Message),
	}
	for _, m := range messages {
		d.Conversations[m.ChatID] = append(d.Conversations[m.ChatID], m)
	}
	return d
}

// Marshal serializes d.
func (d Data) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Messages flattens the conversations. Chats are visited in id order so the
// result is deterministic.
func (d Data) Messages() []chat.Message {
	ids := make([]string, 0, len(d.Conversations))
	for id := range d.Conversations {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]chat.Message, 0, d.MessageCount())
	for _, id := range ids {
		out = append(out, d.Conversations[id]...)
	}
	return out
}

// MessageCount is the number of messages across all conversations.
func (d Data) MessageCount() int {
	n := 0
	for _, msgs := range d.Conversations {
		n += len(msgs)
	}
	return n
}
