package blob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct{ owner, object, blob string }

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recorded
}

func (r *fakeRecorder) RecordBlob(owner, objectID, blobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recorded{owner, objectID, blobID})
}

func TestFromU256(t *testing.T) {
	tests := []struct {
		decimal string
		want    string
	}{
		{"1", "AQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"258", "AgEAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "__________________________________________8"},
	}
	for _, tt := range tests {
		t.Run(tt.decimal, func(t *testing.T) {
			got, err := FromU256(tt.decimal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := ToU256(got)
			require.NoError(t, err)
			assert.Equal(t, tt.decimal, back)
		})
	}

	_, err := FromU256("not a number")
	assert.Error(t, err)
	_, err = ToU256("AQ")
	assert.Error(t, err)
}

func TestMemoryPublishAndGet(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	store := NewMemory(rec)
	data := []byte(`{"appId":"penguinchat"}`)

	receipt, err := Publish(ctx, store, &LocalSigner{}, data, RegisterOptions{Owner: "0xa", Epochs: 1, Deletable: true})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.BlobID)
	assert.True(t, strings.HasPrefix(receipt.Object, "0x"))

	got, err := store.Get(ctx, receipt.BlobID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.Len(t, rec.seen, 1)
	assert.Equal(t, recorded{"0xa", receipt.Object, receipt.BlobID}, rec.seen[0])

	again, err := Publish(ctx, store, &LocalSigner{}, data, RegisterOptions{Owner: "0xa"})
	require.NoError(t, err)
	assert.Equal(t, receipt.BlobID, again.BlobID, "content addressed")
	assert.NotEqual(t, receipt.Object, again.Object, "each publication creates an object")
	assert.Equal(t, 1, store.Len())
}

func TestMemoryGetMissing(t *testing.T) {
	_, err := NewMemory(nil).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlowOrder(t *testing.T) {
	ctx := context.Background()
	flow := NewMemory(nil).NewFlow([]byte("x"))

	_, err := flow.Register(ctx, RegisterOptions{})
	assert.ErrorIs(t, err, ErrFlowOrder)
	_, err = flow.Result()
	assert.ErrorIs(t, err, ErrFlowOrder)

	require.NoError(t, flow.Encode(ctx))
	assert.ErrorIs(t, flow.Encode(ctx), ErrFlowOrder)
	_, err = flow.Certify(ctx)
	assert.ErrorIs(t, err, ErrFlowOrder)
}

func TestMemoryEncodeRejectsEmpty(t *testing.T) {
	assert.Error(t, NewMemory(nil).NewFlow(nil).Encode(context.Background()))
}

func TestLocalSignerDigestsDiffer(t *testing.T) {
	s := &LocalSigner{}
	tx := Transaction{Kind: TxRegister, Owner: "0xa"}
	d1, err := s.SignAndExecute(context.Background(), tx)
	require.NoError(t, err)
	d2, err := s.SignAndExecute(context.Background(), tx)
	require.NoError(t, err)
	assert.Len(t, d1, 64)
	assert.NotEqual(t, d1, d2)
}

func walrusServer(t *testing.T, stored map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/blobs", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Query().Get("send_object_to") != "0xowner" || r.URL.Query().Get("epochs") != "3" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		if string(body) == "known" {
			_ = json.NewEncoder(w).Encode(map[string]any{"alreadyCertified": map[string]any{"blobId": "known-id", "endEpoch": 10}})
			return
		}
		stored["new-id"] = body
		_ = json.NewEncoder(w).Encode(map[string]any{
			"newlyCreated": map[string]any{"blobObject": map[string]any{"id": "0xobj", "blobId": "new-id"}},
		})
	})
	mux.HandleFunc("GET /v1/blobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch id := r.PathValue("id"); id {
		case "flaky":
			http.Error(w, "gateway", http.StatusBadGateway)
		default:
			data, ok := stored[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPPublishAndGet(t *testing.T) {
	ctx := context.Background()
	stored := map[string][]byte{}
	srv := walrusServer(t, stored)
	client := NewHTTP(srv.URL+"/", srv.URL, srv.Client())

	opts := RegisterOptions{Owner: "0xowner", Epochs: 3, Deletable: true}
	receipt, err := Publish(ctx, client, &LocalSigner{}, []byte("payload"), opts)
	require.NoError(t, err)
	assert.Equal(t, Receipt{BlobID: "new-id", Object: "0xobj"}, receipt)

	got, err := client.Get(ctx, "new-id")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	receipt, err = Publish(ctx, client, &LocalSigner{}, []byte("known"), opts)
	require.NoError(t, err)
	assert.Equal(t, "known-id", receipt.BlobID)
}

func TestHTTPTransactionsAreSponsored(t *testing.T) {
	flow := NewHTTP("http://unused", "http://unused", nil).NewFlow([]byte("x"))
	require.NoError(t, flow.Encode(context.Background()))
	tx, err := flow.Register(context.Background(), RegisterOptions{Owner: "0xa"})
	require.NoError(t, err)
	assert.True(t, tx.Sponsored)
}

func TestHTTPGetErrors(t *testing.T) {
	srv := walrusServer(t, map[string][]byte{})
	client := NewHTTP(srv.URL, srv.URL, srv.Client())

	_, err := client.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.Get(context.Background(), "flaky")
	assert.ErrorIs(t, err, ErrRetryable)
}

func TestHTTPUploadFailureRejected(t *testing.T) {
	srv := walrusServer(t, map[string][]byte{})
	client := NewHTTP(srv.URL, srv.URL, srv.Client())

	_, err := Publish(context.Background(), client, &LocalSigner{}, []byte("x"), RegisterOptions{Owner: "0xother", Epochs: 3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryable)
}
