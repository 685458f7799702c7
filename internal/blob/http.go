package blob

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
)

// maxBlobSize bounds what the aggregator client will read into memory.
const maxBlobSize = 64 << 20

// HTTP talks to a Walrus publisher (writes) and aggregator (reads). The
// publisher pays for and executes the register and certify transactions
// itself, so the flow's transactions come back sponsored.
type HTTP struct {
	publisher  string
	aggregator string
	client     *http.Client
}

// NewHTTP creates a client. client may be nil to use http.DefaultClient.
func NewHTTP(publisherURL, aggregatorURL string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		publisher:  strings.TrimRight(publisherURL, "/"),
		aggregator: strings.TrimRight(aggregatorURL, "/"),
		client:     client,
	}
}

func (h *HTTP) Get(ctx context.Context, blobID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.aggregator+"/v1/blobs/"+url.PathEscape(blobID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrRetryable, blobID, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp, blobID); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", blobID, err)
	}
	return data, nil
}

func (h *HTTP) NewFlow(data []byte) Flow {
	return &httpFlow{client: h, data: data}
}

// storeResponse is the publisher's reply to PUT /v1/blobs.
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			ID     string `json:"id"`
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
		Object string `json:"object"`
	} `json:"alreadyCertified"`
}

func (h *HTTP) store(ctx context.Context, data []byte, opts RegisterOptions) (Receipt, error) {
	q := url.Values{}
	if opts.Epochs > 0 {
		q.Set("epochs", strconv.Itoa(opts.Epochs))
	}
	if opts.Deletable {
		q.Set("deletable", "true")
	}
	if opts.Owner != "" {
		q.Set("send_object_to", opts.Owner)
	}
	endpoint := h.publisher + "/v1/blobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := h.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: store blob: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp, ""); err != nil {
		return Receipt{}, err
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("decode store response: %w", err)
	}
	switch {
	case out.NewlyCreated != nil:
		return Receipt{BlobID: out.NewlyCreated.BlobObject.BlobID, Object: out.NewlyCreated.BlobObject.ID}, nil
	case out.AlreadyCertified != nil:
		return Receipt{BlobID: out.AlreadyCertified.BlobID, Object: out.AlreadyCertified.Object}, nil
	}
	return Receipt{}, errors.New("store response carries no blob id")
}

func statusError(resp *http.Response, blobID string) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, blobID)
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("blob store returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	return err
}

type httpFlow struct {
	sequence
	client  *HTTP
	data    []byte
	opts    RegisterOptions
	receipt Receipt
}

func (f *httpFlow) Encode(ctx context.Context) error {
	if len(f.data) == 0 {
		return errors.New("encode: empty blob")
	}
	return f.advance(stepNew, stepEncoded)
}

func (f *httpFlow) Register(_ context.Context, opts RegisterOptions) (Transaction, error) {
	if err := f.advance(stepEncoded, stepRegistered); err != nil {
		return Transaction{}, err
	}
	f.opts = opts
	return Transaction{Kind: TxRegister, Owner: opts.Owner, Epochs: opts.Epochs, Deletable: opts.Deletable, Sponsored: true}, nil
}

// Upload sends the data; the publisher registers and certifies it in the same call.
func (f *httpFlow) Upload(ctx context.Context, _ string) error {
	if err := f.advance(stepRegistered, stepUploaded); err != nil {
		return err
	}
	receipt, err := f.client.store(ctx, f.data, f.opts)
	if err != nil {
		f.at = stepRegistered
		return err
	}
	f.receipt = receipt
	return nil
}

func (f *httpFlow) Certify(_ context.Context) (Transaction, error) {
	if err := f.advance(stepUploaded, stepCertified); err != nil {
		return Transaction{}, err
	}
	return Transaction{Kind: TxCertify, Owner: f.opts.Owner, BlobID: f.receipt.BlobID, Sponsored: true}, nil
}

func (f *httpFlow) Result() (Receipt, error) {
	if !f.done() {
		return Receipt{}, fmt.Errorf("%w: result requires certified, flow is %s", ErrFlowOrder, f.at)
	}
	return f.receipt, nil
}
