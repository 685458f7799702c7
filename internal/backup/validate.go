package backup

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/penguinchat/penguinchat/internal/chat"
)

// Reason says why a payload is not a valid backup.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotJSON          Reason = "not_json"
	ReasonNotObject        Reason = "not_object"
	ReasonForeignApp       Reason = "foreign_app"
	ReasonMissingVersion   Reason = "missing_version"
	ReasonBadConversations Reason = "bad_conversations"
	ReasonBadTimestamp     Reason = "bad_timestamp"
	ReasonBadMessages      Reason = "bad_messages"
)

// Verdict is the result of checking a payload.
type Verdict struct {
	Valid  bool
	Data   Data
	Reason Reason
	Detail string

	// Dropped counts messages of a valid backup that could not be decoded.
	Dropped int
	tagged  bool
}

// Tagged reports whether the payload carried our app id. An invalid but
// tagged payload is most likely one of our own backups that got corrupted,
// whereas an untagged one belongs to some other application.
func (v Verdict) Tagged() bool { return v.tagged }

func invalid(r Reason, tagged bool, format string, args ...any) Verdict {
	return Verdict{Reason: r, Detail: fmt.Sprintf(format, args...), tagged: tagged}
}

// Validate checks that raw is a backup document written by this application.
func Validate(raw []byte) Verdict {
	if !json.Valid(raw) {
		return invalid(ReasonNotJSON, false, "payload is not JSON")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return invalid(ReasonNotObject, false, "payload is not a JSON object")
	}

	var appID string
	if err := json.Unmarshal(fields["appId"], &appID); err != nil || appID != AppID {
		return invalid(ReasonForeignApp, false, "appId is %s", bytes.TrimSpace(fields["appId"]))
	}

	version, ok := versionString(fields["version"])
	if !ok {
		return invalid(ReasonMissingVersion, true, "version missing")
	}

	var convs map[string]json.RawMessage
	if err := json.Unmarshal(fields["conversations"], &convs); err != nil || convs == nil {
		return invalid(ReasonBadConversations, true, "conversations is not an object")
	}

	ts := bytes.TrimSpace(fields["timestamp"])
	var ms float64
	if len(ts) == 0 || ts[0] == '"' || bytes.Equal(ts, []byte("null")) || json.Unmarshal(ts, &ms) != nil {
		return invalid(ReasonBadTimestamp, true, "timestamp is not a number")
	}

	d := Data{
		Timestamp:     int64(ms),
		AppID:         appID,
		Version:       version,
		Conversations: make(map[string][]chat.Message, len(convs)),
	}
	_ = json.Unmarshal(fields["suiObjectId"], &d.SuiObjectID)
	dropped := 0
	for id, rawMsgs := range convs {
		var items []json.RawMessage
		if err := json.Unmarshal(rawMsgs, &items); err != nil {
			return invalid(ReasonBadMessages, true, "conversation %s is not a list", id)
		}
		msgs := make([]chat.Message, 0, len(items))
		for _, item := range items {
			var m chat.Message
			if bytes.Equal(bytes.TrimSpace(item), []byte("null")) || json.Unmarshal(item, &m) != nil {
				dropped++
				continue
			}
			msgs = append(msgs, m)
		}
		d.Conversations[id] = msgs
	}
	return Verdict{Valid: true, Data: d, Dropped: dropped, tagged: true}
}

// versionString accepts any truthy scalar: a non-empty string, a non-zero
// number or true.
func versionString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var v string
		if json.Unmarshal(raw, &v) != nil || v == "" {
			return "", false
		}
		return v, true
	case 't':
		return "true", bytes.Equal(raw, []byte("true"))
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n float64
		if json.Unmarshal(raw, &n) != nil || n == 0 {
			return "", false
		}
		return string(raw), true
	}
	return "", false
}
