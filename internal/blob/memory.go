package blob

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// Recorder learns about objects created for certified blobs, so an
// in-process ownership registry can list them.
type Recorder interface {
	RecordBlob(owner, objectID, blobID string)
}

// Memory is an in-process blob store. Blob ids are content hashes, so
// publishing the same bytes twice yields the same id and a second object.
type Memory struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	objects  int
	recorder Recorder
}

// NewMemory creates an empty store. recorder may be nil.
func NewMemory(recorder Recorder) *Memory {
	return &Memory{blobs: make(map[string][]byte), recorder: recorder}
}

func (m *Memory) Get(_ context.Context, blobID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[blobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, blobID)
	}
	return append([]byte(nil), data...), nil
}

// Put stores data directly and returns its id, bypassing the flow.
func (m *Memory) Put(data []byte) string {
	id := contentID(data)
	m.mu.Lock()
	m.blobs[id] = append([]byte(nil), data...)
	m.mu.Unlock()
	return id
}

// Len returns the number of distinct blobs held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *Memory) NewFlow(data []byte) Flow {
	return &memoryFlow{store: m, data: data}
}

func (m *Memory) certify(owner string, id string, data []byte) string {
	m.mu.Lock()
	m.blobs[id] = data
	m.objects++
	sum := sha256.Sum256(fmt.Appendf(nil, "%s/%s/%d", owner, id, m.objects))
	m.mu.Unlock()

	object := "0x" + hex.EncodeToString(sum[:])
	if m.recorder != nil {
		m.recorder.RecordBlob(owner, object, id)
	}
	return object
}

type memoryFlow struct {
	sequence
	store  *Memory
	data   []byte
	id     string
	opts   RegisterOptions
	object string
}

func (f *memoryFlow) Encode(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(f.data) == 0 {
		return errors.New("encode: empty blob")
	}
	if err := f.advance(stepNew, stepEncoded); err != nil {
		return err
	}
	f.id = contentID(f.data)
	return nil
}

func (f *memoryFlow) Register(ctx context.Context, opts RegisterOptions) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	if err := f.advance(stepEncoded, stepRegistered); err != nil {
		return Transaction{}, err
	}
	f.opts = opts
	return Transaction{Kind: TxRegister, Owner: opts.Owner, BlobID: f.id, Epochs: opts.Epochs, Deletable: opts.Deletable}, nil
}

func (f *memoryFlow) Upload(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if digest == "" {
		return errors.New("upload: register transaction was not executed")
	}
	return f.advance(stepRegistered, stepUploaded)
}

func (f *memoryFlow) Certify(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	if err := f.advance(stepUploaded, stepCertified); err != nil {
		return Transaction{}, err
	}
	f.object = f.store.certify(f.opts.Owner, f.id, append([]byte(nil), f.data...))
	return Transaction{Kind: TxCertify, Owner: f.opts.Owner, BlobID: f.id}, nil
}

func (f *memoryFlow) Result() (Receipt, error) {
	if !f.done() {
		return Receipt{}, fmt.Errorf("%w: result requires certified, flow is %s", ErrFlowOrder, f.at)
	}
	return Receipt{BlobID: f.id, Object: f.object}, nil
}

func contentID(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
