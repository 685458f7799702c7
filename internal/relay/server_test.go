package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/ledger"
)

const testBlobType = "0xabc::blob::Blob"

type testRelay struct {
	hub      *Hub
	server   *Server
	http     *httptest.Server
	blobs    *blob.Memory
	registry *ledger.Memory
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := startHub(t, 0)
	reg := ledger.NewMemory(testBlobType)
	blobs := blob.NewMemory(reg)
	up := backup.NewUploader(nil, blobs, &blob.LocalSigner{}, nil, zap.NewNop(), backup.UploadOptions{Epochs: 1, Deletable: true, CallTimeout: time.Second})
	sc, err := backup.NewScanner(reg, blobs, zap.NewNop(), backup.ScanOptions{BlobType: testBlobType, CallTimeout: time.Second})
	require.NoError(t, err)

	s := NewServer(h, up, sc, zap.NewNop(), Options{PingInterval: time.Second})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		ts.Close()
	})
	return &testRelay{hub: h, server: s, http: ts, blobs: blobs, registry: reg}
}

func (r *testRelay) dial(t *testing.T, address string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	f, err := NewFrame(EventJoin, JoinData{UserAddress: address})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(f))
	require.Eventually(t, func() bool {
		ok, _ := r.hub.IsOnline(context.Background(), address)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func (r *testRelay) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestWebsocketOfflineThenJoin(t *testing.T) {
	r := newTestRelay(t)
	a := r.dial(t, addrA)

	for _, text := range []string{"A", "B"} {
		f, err := NewFrame(EventSendMessage, SendData{Message: msg(text, text, time.Now().UnixMilli())})
		require.NoError(t, err)
		require.NoError(t, a.WriteJSON(f))
	}
	require.Eventually(t, func() bool {
		p, _ := r.hub.Pending(context.Background(), addrB, time.Time{})
		return len(p) == 2
	}, 2*time.Second, 10*time.Millisecond)

	b := r.dial(t, addrB)
	got := decodeBatch(t, readFrame(t, b))
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Text)
	assert.Equal(t, "B", got[1].Text)

	// Now live.
	f, err := NewFrame(EventSendMessage, SendData{Message: msg("C", "C", time.Now().UnixMilli())})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(f))
	m := decodePush(t, readFrame(t, b))
	assert.Equal(t, "C", m.Text)
	assert.Equal(t, addrA, m.SenderAddress)
}

func TestWebsocketEvictsStaleSession(t *testing.T) {
	r := newTestRelay(t)
	old := r.dial(t, addrB)
	_ = r.dial(t, addrB)

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := old.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
}

func TestHTTPSendAndSync(t *testing.T) {
	r := newTestRelay(t)
	m := msg("1", "over http", 5000)

	code, body := r.do(t, http.MethodPost, "/api/messages/send", sendRequest{Message: m, UserAddress: addrA})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, string(Queued), body["delivery"])

	code, body = r.do(t, http.MethodGet, "/api/messages/"+addrB+"/sync?since=1000", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["messages"], 1)

	code, body = r.do(t, http.MethodGet, "/api/messages/"+addrB+"/sync?since=9000", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["messages"], 0)

	code, _ = r.do(t, http.MethodGet, "/api/messages/"+addrB+"/sync?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = r.do(t, http.MethodPost, "/api/messages/send", sendRequest{Message: m, UserAddress: addrC})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestPresenceRoutes(t *testing.T) {
	r := newTestRelay(t)
	r.dial(t, addrA)

	code, body := r.do(t, http.MethodGet, "/api/user/"+addrA+"/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isOnline"])

	_, body = r.do(t, http.MethodGet, "/api/user/"+addrB+"/status", nil)
	assert.Equal(t, false, body["isOnline"])

	_, body = r.do(t, http.MethodGet, "/api/users/online", nil)
	assert.Equal(t, []any{addrA}, body["onlineUsers"])
	assert.Equal(t, float64(1), body["count"])
}

func TestBackupRoutes(t *testing.T) {
	r := newTestRelay(t)
	m := msg("1", "hello", 1000)
	m.SenderAddress = addrA
	doc := backup.Encode([]chat.Message{m}, time.UnixMilli(2000))

	code, body := r.do(t, http.MethodPost, "/api/backup", gin.H{"backupData": doc, "owner": addrA})
	require.Equal(t, http.StatusOK, code, body)
	blobID, _ := body["blobId"].(string)
	require.NotEmpty(t, blobID)
	assert.NotEmpty(t, body["blobObject"])
	assert.Equal(t, float64(2000), body["timestamp"])

	code, body = r.do(t, http.MethodGet, "/api/backup/"+blobID, nil)
	require.Equal(t, http.StatusOK, code)
	data, _ := body["backupData"].(map[string]any)
	assert.Equal(t, backup.AppID, data["appId"])

	code, _ = r.do(t, http.MethodGet, "/api/backup/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// A foreign blob owned by the same wallet is listed raw but not as a backup.
	foreignID := r.blobs.Put([]byte(`{"appId":"other"}`))
	r.registry.Record(addrA, ledger.Object{ID: "0xforeign", Type: testBlobType, BlobID: foreignID})

	code, body = r.do(t, http.MethodGet, "/api/user-blobs/"+addrA, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["blobs"], 2)

	code, body = r.do(t, http.MethodGet, "/api/penguinchat-backups/"+addrA, nil)
	require.Equal(t, http.StatusOK, code)
	backups, _ := body["backups"].([]any)
	require.Len(t, backups, 1)
	entry := backups[0].(map[string]any)
	assert.Equal(t, blobID, entry["blobId"])
	assert.Equal(t, float64(1), entry["messageCount"])
}

func TestBackupUploadRejects(t *testing.T) {
	r := newTestRelay(t)

	code, body := r.do(t, http.MethodPost, "/api/backup", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, _ = r.do(t, http.MethodPost, "/api/backup", gin.H{"backupData": gin.H{"appId": "other", "version": "1", "timestamp": 1, "conversations": gin.H{}}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 0, r.blobs.Len())
}

func TestHealth(t *testing.T) {
	r := newTestRelay(t)
	code, body := r.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["blobClientInitialized"])
	assert.Equal(t, true, body["registryInitialized"])

	bare := NewServer(startHub(t, 0), nil, nil, nil, Options{})
	w := httptest.NewRecorder()
	bare.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Contains(t, w.Body.String(), `"blobClientInitialized":false`)
}
