// Package ledger lists the objects a wallet owns on the ownership ledger.
package ledger

import (
	"context"
	"encoding/json"
)

// Object is one owned object. BlobID is set when the object references a
// stored blob; it is empty otherwise.
type Object struct {
	ID     string          `json:"objectId"`
	Type   string          `json:"type"`
	BlobID string          `json:"blobId,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// Registry answers ownership queries.
type Registry interface {
	OwnedObjects(ctx context.Context, owner, structType string) ([]Object, error)
}
