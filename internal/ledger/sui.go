package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/blob"
)

const (
	ownedObjectsMethod = "suix_getOwnedObjects"
	pageLimit          = 50
	maxPages           = 100
)

// Sui queries a Sui fullnode over JSON-RPC.
type Sui struct {
	client *rpc.Client
	log    *zap.Logger
}

// DialSui connects to the fullnode at url.
func DialSui(ctx context.Context, url string, log *zap.Logger) (*Sui, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewSui(client, log), nil
}

// NewSui wraps an existing RPC client.
func NewSui(client *rpc.Client, log *zap.Logger) *Sui {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sui{client: client, log: log}
}

// Close closes the RPC client.
func (s *Sui) Close() { s.client.Close() }

type objectQuery struct {
	Filter  map[string]string `json:"filter,omitempty"`
	Options objectOptions     `json:"options"`
}

type objectOptions struct {
	ShowType    bool `json:"showType"`
	ShowContent bool `json:"showContent"`
}

type ownedPage struct {
	Data []struct {
		Data json.RawMessage `json:"data"`
	} `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type objectData struct {
	ObjectID string `json:"objectId"`
	Type     string `json:"type"`
	Content  struct {
		Fields struct {
			BlobID json.RawMessage `json:"blob_id"`
		} `json:"fields"`
	} `json:"content"`
}

// OwnedObjects pages through every object of structType owned by owner.
func (s *Sui) OwnedObjects(ctx context.Context, owner, structType string) ([]Object, error) {
	query := objectQuery{Options: objectOptions{ShowType: true, ShowContent: true}}
	if structType != "" {
		query.Filter = map[string]string{"StructType": structType}
	}

	var (
		out    []Object
		cursor *string
	)
	for range maxPages {
		var page ownedPage
		if err := s.client.CallContext(ctx, &page, ownedObjectsMethod, owner, query, cursor, pageLimit); err != nil {
			return nil, fmt.Errorf("%s %s: %w", ownedObjectsMethod, owner, err)
		}
		for _, item := range page.Data {
			obj, err := s.decode(item.Data)
			if err != nil {
				s.log.Warn("undecodable owned object", zap.String("address", owner), zap.Error(err))
				continue
			}
			out = append(out, obj)
		}
		if !page.HasNextPage || page.NextCursor == nil {
			return out, nil
		}
		cursor = page.NextCursor
	}
	s.log.Warn("owned objects truncated", zap.String("address", owner), zap.Int("objects", len(out)))
	return out, nil
}

func (s *Sui) decode(raw json.RawMessage) (Object, error) {
	var data objectData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Object{}, err
	}
	obj := Object{ID: data.ObjectID, Type: data.Type, Raw: raw}

	var decimal string
	if len(data.Content.Fields.BlobID) > 0 && json.Unmarshal(data.Content.Fields.BlobID, &decimal) == nil && decimal != "" {
		id, err := blob.FromU256(decimal)
		if err != nil {
			s.log.Warn("bad blob_id field", zap.String("object_id", data.ObjectID), zap.Error(err))
		} else {
			obj.BlobID = id
		}
	}
	return obj, nil
}
