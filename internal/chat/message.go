package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery lifecycle of an outbound message. Sent means the
// message was handed to the transport, not that the peer received it.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Type distinguishes message kinds.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeGift  Type = "gift"
)

// Sender is the display snapshot taken when a message is created.
type Sender struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// GiftData describes an asset gift attached to a gift message.
type GiftData struct {
	Amount            string `json:"amount"`
	Asset             string `json:"asset"`
	TransactionDigest string `json:"transactionDigest"`
	Recipient         string `json:"recipient"`
}

// Message is a single chat event.
type Message struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	ChatID        string    `json:"chatId"`
	IsSent        bool      `json:"isSent"`
	IsRead        *bool     `json:"isRead,omitempty"`
	Status        Status    `json:"status,omitempty"`
	Sender        Sender    `json:"sender"`
	SenderAddress string    `json:"senderAddress,omitempty"`
	Type          Type      `json:"type,omitempty"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	ImageData     string    `json:"imageData,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	GiftData      *GiftData `json:"giftData,omitempty"`
}

type messageAlias Message

type messageJSON struct {
	messageAlias
	Timestamp json.RawMessage `json:"timestamp"`
}

// UnmarshalJSON accepts timestamps either as RFC 3339 strings (the form a
// browser Date serializes to) or as epoch milliseconds.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("message %q: %w", raw.ID, err)
	}
	*m = Message(raw.messageAlias)
	m.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return time.UnixMilli(int64(ms)), nil
}

// Read reports the read receipt, treating an absent value as unread.
func (m *Message) Read() bool {
	return m.IsRead != nil && *m.IsRead
}

// SetRead sets the read receipt.
func (m *Message) SetRead(v bool) {
	m.IsRead = &v
}

// NewMessageID returns a caller-side message id: the creation time in
// milliseconds followed by a random suffix.
func NewMessageID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

// Summary is the derived view of one conversation.
type Summary struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Avatar               string    `json:"avatar"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	UnreadCount          int       `json:"unreadCount"`
	Participants         []string  `json:"participants"`
}

// BackupSettings drives the local backup timer for one wallet.
type BackupSettings struct {
	FrequencyMinutes    int   `json:"frequencyMinutes"`
	AutoBackup          bool  `json:"autoBackup"`
	LastBackupTimestamp int64 `json:"lastBackupTimestamp,omitempty"`
}

// DefaultBackupSettings returns the settings used when none were saved.
func DefaultBackupSettings() BackupSettings {
	return BackupSettings{FrequencyMinutes: 5, AutoBackup: true}
}

// GiftText is the text a recipient sees for a gift message.
func GiftText(senderName string, g *GiftData) string {
	return fmt.Sprintf("%s gifted you %s %s", senderName, g.Amount, g.Asset)
}
