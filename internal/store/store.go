package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrMessageNotFound is returned when a message id is not in the owner's log.
var ErrMessageNotFound = errors.New("message not found")

const keyPrefix = "penguinchat"

// Store is the local durable store: a per-wallet message log, a derived chat
// summary index, sync and backup bookkeeping, and a global display-name table.
//
// Every mutation is a read-modify-write of a whole JSON document. The mutex
// serializes those cycles inside one process only; two processes sharing the
// same database can interleave and the last writer wins.
type Store struct {
	kv KV
	mu sync.Mutex
}

// New creates a store on top of kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Close closes the underlying engine.
func (s *Store) Close() error {
	return s.kv.Close()
}

func messagesKey(owner string) string       { return keyPrefix + "/" + owner + "/messages" }
func chatsKey(owner string) string          { return keyPrefix + "/" + owner + "/chats" }
func lastSyncKey(owner string) string       { return keyPrefix + "/" + owner + "/last_sync" }
func backupSettingsKey(owner string) string { return keyPrefix + "/" + owner + "/backup_settings" }

const displayNamesKey = keyPrefix + "/display_names"

func (s *Store) getJSON(key string, v any) (bool, error) {
	data, ok, err := s.kv.Get(key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Put(key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
