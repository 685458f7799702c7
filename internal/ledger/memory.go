package ledger

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process registry.
type Memory struct {
	mu       sync.RWMutex
	owned    map[string][]Object
	blobType string
	err      error
}

// NewMemory creates an empty registry. blobType is the type recorded for
// objects created through RecordBlob.
func NewMemory(blobType string) *Memory {
	return &Memory{owned: make(map[string][]Object), blobType: blobType}
}

// Record adds obj to owner's objects.
func (m *Memory) Record(owner string, obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned[owner] = append(m.owned[owner], obj)
}

// RecordBlob records a blob object of the configured type.
func (m *Memory) RecordBlob(owner, objectID, blobID string) {
	raw, _ := json.Marshal(map[string]string{"objectId": objectID, "blob_id": blobID})
	m.Record(owner, Object{ID: objectID, Type: m.blobType, BlobID: blobID, Raw: raw})
}

// Fail makes every following query return err. Pass nil to recover.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) OwnedObjects(ctx context.Context, owner, structType string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Object
	for _, obj := range m.owned[owner] {
		if structType == "" || obj.Type == structType {
			out = append(out, obj)
		}
	}
	return out, nil
}
