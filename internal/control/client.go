// Package control is the client side of the daemon's control API.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/penguinchat/penguinchat/internal/api"
	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/chat"
	intsync "github.com/penguinchat/penguinchat/internal/sync"
)

// Client talks to one daemon over its Unix socket.
type Client struct {
	http *http.Client
	base string
}

// Error is a failed control call.
type Error struct {
	Status  int
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" && e.Detail != e.Message {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Dial returns a client for the daemon listening on socketPath. No
// connection is made until the first call.
func Dial(socketPath string, timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		base: "http://penguind",
	}
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	if !env.Success {
		return &Error{Status: resp.StatusCode, Message: env.Message, Detail: env.Error}
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (api.SessionStatus, error) {
	var out api.SessionStatus
	err := c.call(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) Chats(ctx context.Context) ([]chat.Summary, error) {
	var out []chat.Summary
	err := c.call(ctx, http.MethodGet, "/chats", nil, &out)
	return out, err
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]chat.Message, error) {
	var out []chat.Message
	err := c.call(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &out)
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.call(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/read", nil, nil)
}

// Send posts a message. On a failed send the returned message carries the
// failed status along with the error.
func (c *Client) Send(ctx context.Context, req api.SendRequest) (chat.Message, error) {
	var out chat.Message
	err := c.call(ctx, http.MethodPost, "/messages", req, &out)
	return out, err
}

func (c *Client) Backup(ctx context.Context) (backup.Outcome, error) {
	var out backup.Outcome
	err := c.call(ctx, http.MethodPost, "/backup", nil, &out)
	return out, err
}

func (c *Client) Recover(ctx context.Context) (intsync.Report, error) {
	var out intsync.Report
	err := c.call(ctx, http.MethodPost, "/recover", nil, &out)
	return out, err
}

// Sync asks the daemon to catch up with the relay over HTTP and returns how
// many new messages arrived.
func (c *Client) Sync(ctx context.Context) (int, error) {
	var out struct {
		Received int `json:"received"`
	}
	err := c.call(ctx, http.MethodPost, "/sync", nil, &out)
	return out.Received, err
}

func (c *Client) BackupSettings(ctx context.Context) (chat.BackupSettings, error) {
	var out chat.BackupSettings
	err := c.call(ctx, http.MethodGet, "/backup/settings", nil, &out)
	return out, err
}

func (c *Client) UpdateBackupSettings(ctx context.Context, req api.SettingsRequest) (chat.BackupSettings, error) {
	var out struct {
		Settings chat.BackupSettings `json:"settings"`
	}
	err := c.call(ctx, http.MethodPut, "/backup/settings", req, &out)
	return out.Settings, err
}

func (c *Client) SetName(ctx context.Context, address, name string) error {
	return c.call(ctx, http.MethodPut, "/names/"+url.PathEscape(address), map[string]string{"name": name}, nil)
}
