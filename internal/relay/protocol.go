package relay

import (
	"encoding/json"
	"fmt"

	"github.com/penguinchat/penguinchat/internal/chat"
)

// Frame events.
const (
	EventJoin        = "join"
	EventSendMessage = "send_message"
	EventMessages    = "messages"
	EventMessage     = "message"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinData registers the connection under an address.
type JoinData struct {
	UserAddress string `json:"userAddress"`
}

// SendData carries an outbound message.
type SendData struct {
	Message chat.Message `json:"message"`
}

// PushData is a single message pushed to a live recipient.
type PushData struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// NewFrame encodes v as the frame's data.
func NewFrame(event string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame's data into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Event, err)
	}
	return nil
}

func batchFrame(msgs []chat.Message) (Frame, error) {
	return NewFrame(EventMessages, msgs)
}

func pushFrame(m chat.Message) (Frame, error) {
	return NewFrame(EventMessage, PushData{Type: EventMessage, Message: m})
}
