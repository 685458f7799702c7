// Package blob publishes and reads opaque, immutable blobs. Publishing is a
// multi-step flow: encode, register (a signed transaction), upload, certify
// (another signed transaction), then read back the blob id.
package blob

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a blob id is unknown to the store.
	ErrNotFound = errors.New("blob not found")
	// ErrRetryable marks transient failures a caller may retry once.
	ErrRetryable = errors.New("retryable blob store error")
	// ErrFlowOrder is returned when flow steps run out of order.
	ErrFlowOrder = errors.New("blob flow step out of order")
)

// TxKind names the transaction a flow asks to be signed.
type TxKind string

const (
	TxRegister TxKind = "register"
	TxCertify  TxKind = "certify"
)

// Transaction is an unsigned ledger transaction produced by a flow step.
// Sponsored transactions are executed by the store operator and need no
// signature; signers return a digest for them without doing anything.
type Transaction struct {
	Kind      TxKind `json:"kind"`
	Owner     string `json:"owner"`
	BlobID    string `json:"blobId,omitempty"`
	Epochs    int    `json:"epochs,omitempty"`
	Deletable bool   `json:"deletable,omitempty"`
	Sponsored bool   `json:"sponsored,omitempty"`
}

// Receipt is the outcome of a completed flow.
type Receipt struct {
	BlobID string `json:"blobId"`
	Object string `json:"blobObject,omitempty"`
}

// RegisterOptions are the storage parameters of a new blob.
type RegisterOptions struct {
	Owner     string
	Epochs    int
	Deletable bool
}

// Flow drives a single publication. Each method must be called once, in order.
type Flow interface {
	Encode(ctx context.Context) error
	Register(ctx context.Context, opts RegisterOptions) (Transaction, error)
	Upload(ctx context.Context, digest string) error
	Certify(ctx context.Context) (Transaction, error)
	Result() (Receipt, error)
}

// Publisher starts publication flows.
type Publisher interface {
	NewFlow(data []byte) Flow
}

// Reader fetches blob content by id.
type Reader interface {
	Get(ctx context.Context, blobID string) ([]byte, error)
}

// Signer signs and executes a transaction and returns its digest.
type Signer interface {
	SignAndExecute(ctx context.Context, tx Transaction) (string, error)
}
