package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/relay"
	"github.com/penguinchat/penguinchat/internal/status"
)

// ErrNoHTTP is returned when the HTTP fallback is needed but no relay HTTP
// URL is configured.
var ErrNoHTTP = errors.New("relay http url not configured")

// Send stamps m as an outgoing message of the owner, stores it and hands it
// to the relay. The stored status ends as sent or failed; there is no retry.
func (l *Link) Send(ctx context.Context, m chat.Message) (chat.Message, error) {
	now := l.now()
	if m.ID == "" {
		m.ID = chat.NewMessageID(now)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.Type == "" {
		m.Type = chat.TypeText
	}
	m.SenderAddress = l.owner
	m.IsSent = true
	m.Status = chat.StatusSending
	if m.Sender.Name == "" {
		m.Sender = l.store.Sender(l.owner)
	}
	if err := l.store.SaveMessage(l.owner, m); err != nil {
		return m, err
	}

	err := l.emit(ctx, m)
	m.Status = chat.StatusSent
	if err != nil {
		m.Status = chat.StatusFailed
	}
	if uerr := l.store.UpdateMessageStatus(l.owner, m.ID, m.Status); uerr != nil {
		l.log.Error("update message status", zap.String("msg_id", m.ID), zap.Error(uerr))
	}
	if err != nil {
		l.log.Warn("send failed", zap.String("msg_id", m.ID), zap.String("chat_id", m.ChatID), zap.Error(err))
		return m, fmt.Errorf("send %s: %w", m.ID, err)
	}
	return m, nil
}

func (l *Link) emit(ctx context.Context, m chat.Message) error {
	if conn := l.currentConn(); conn != nil && l.machine.Current() == status.Joined {
		f, err := relay.NewFrame(relay.EventSendMessage, relay.SendData{Message: m})
		if err != nil {
			return err
		}
		if err = l.write(conn, f); err == nil {
			return nil
		}
		l.log.Warn("socket send failed, using http", zap.String("msg_id", m.ID), zap.Error(err))
	}
	return l.sendHTTP(ctx, m)
}

func (l *Link) endpoint(path string) (string, error) {
	if l.opts.HTTPURL == "" {
		return "", ErrNoHTTP
	}
	return strings.TrimRight(l.opts.HTTPURL, "/") + path, nil
}

func (l *Link) sendHTTP(ctx context.Context, m chat.Message) error {
	u, err := l.endpoint("/api/messages/send")
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"message": m, "userAddress": l.owner})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.opts.SendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := l.doJSON(req, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("relay rejected message: %s", out.Error)
	}
	return nil
}

// CatchUp fetches messages queued for the owner since the last sync over
// HTTP, ingests them and returns how many were new. The last sync time
// advances to the newest message seen.
func (l *Link) CatchUp(ctx context.Context) (int, error) {
	since, err := l.store.LastSync(l.owner)
	if err != nil {
		return 0, err
	}
	u, err := l.endpoint("/api/messages/" + url.PathEscape(l.owner) + "/sync")
	if err != nil {
		return 0, err
	}
	if !since.IsZero() {
		u += "?since=" + strconv.FormatInt(since.UnixMilli(), 10)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.SendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Success  bool           `json:"success"`
		Messages []chat.Message `json:"messages"`
	}
	if err := l.doJSON(req, &out); err != nil {
		return 0, err
	}

	fresh := 0
	newest := since
	for _, m := range out.Messages {
		if l.receive(m) {
			fresh++
		}
		if m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
	}
	if newest.After(since) {
		if err := l.store.SetLastSync(l.owner, newest); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

func (l *Link) doJSON(req *http.Request, out any) error {
	resp, err := l.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// WaitJoined blocks until the link has joined the relay.
func (l *Link) WaitJoined(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.machine.Wait(ctx, status.Joined)
}
