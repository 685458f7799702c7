package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/ledger"
	"github.com/penguinchat/penguinchat/internal/store"
)

const (
	owner = "0xa"
	peer  = "0xb"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, _, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	s := store.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func recovered(id string, ts int64, sender string, isSent bool) chat.Message {
	return chat.Message{
		ID:            id,
		Text:          "text " + id,
		Timestamp:     time.UnixMilli(ts),
		ChatID:        chat.NewChatID(owner, peer),
		SenderAddress: sender,
		IsSent:        isSent,
	}
}

func TestEngineIngestMessage(t *testing.T) {
	st := testStore(t)
	b := bus.New()
	e := NewEngine(st, b, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	// A backup taken by the peer marks the message as sent from its side.
	if err := e.IngestMessage(owner, recovered("m1", 1000, peer, true)); err != nil {
		t.Fatal(err)
	}

	msgs, err := st.MessagesByChat(owner, chat.NewChatID(owner, peer))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].IsSent {
		t.Fatalf("got %+v, want one received message", msgs)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageUpsert {
			t.Errorf("event kind = %q, want message.upserted", evt.Kind)
		}
		if up := evt.Payload.(Upserted); up.MsgID != "m1" {
			t.Errorf("payload = %+v", up)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted event")
	}
}

func TestEngineKeepsIsSentWithoutAuthor(t *testing.T) {
	st := testStore(t)
	e := NewEngine(st, bus.New(), nil)

	if err := e.IngestMessage(owner, recovered("m1", 1000, "", true)); err != nil {
		t.Fatal(err)
	}
	msgs, _ := st.AllMessages(owner)
	if len(msgs) != 1 || !msgs[0].IsSent {
		t.Fatalf("isSent should be kept as stored, got %+v", msgs)
	}
}

func TestEngineIngestBatchIdempotent(t *testing.T) {
	st := testStore(t)
	e := NewEngine(st, bus.New(), nil)

	batch := []chat.Message{
		recovered("m1", 1000, owner, true),
		recovered("m2", 2000, peer, false),
		{ID: "bad", ChatID: "not-a-chat"},
	}
	for i := range 3 {
		res, err := e.IngestBatch(owner, batch)
		if err != nil {
			t.Fatal(err)
		}
		want := BatchResult{Owner: owner, Stored: 2, Skipped: 1}
		if i > 0 {
			want = BatchResult{Owner: owner, Known: 2, Skipped: 1}
		}
		if res != want {
			t.Fatalf("run %d: result = %+v, want %+v", i, res, want)
		}
	}

	n, err := st.MessageCount(owner)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("message count = %d, want 2", n)
	}
}

func TestEngineReplayKeepsLocalState(t *testing.T) {
	st := testStore(t)
	e := NewEngine(st, bus.New(), nil)
	id := chat.NewChatID(owner, peer)

	local := recovered("m1", 1000, peer, false)
	local.Text = "edited locally"
	if err := st.SaveMessage(owner, local); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkChatRead(owner, id); err != nil {
		t.Fatal(err)
	}

	// Two older snapshots of the same message, replayed in either order.
	older := recovered("m1", 1000, peer, false)
	older.SetRead(false)
	oldest := recovered("m1", 1000, peer, false)
	for _, batch := range [][]chat.Message{{older}, {oldest}, {older}} {
		if _, err := e.IngestBatch(owner, batch); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := st.MessagesByChat(owner, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("count = %d, want 1", len(msgs))
	}
	if !msgs[0].Read() || msgs[0].Text != "edited locally" {
		t.Errorf("local copy overwritten: %+v", msgs[0])
	}
	chats, err := st.UserChats(owner)
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", chats[0].UnreadCount)
	}
}

func TestEngineConsumesBusBatches(t *testing.T) {
	st := testStore(t)
	b := bus.New()
	e := NewEngine(st, b, nil)
	done, unsub := b.Subscribe(bus.KindSyncBatch, 1)
	defer unsub()

	e.Start(context.Background())
	defer e.Stop()

	b.Emit(bus.KindRecoveryBatch, Batch{Owner: owner, Messages: []chat.Message{recovered("m1", 1, peer, false)}})

	select {
	case evt := <-done:
		if res := evt.Payload.(BatchResult); res.Stored != 1 {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("batch not ingested")
	}
}

func TestReconcileRestoresBackups(t *testing.T) {
	st := testStore(t)
	b := bus.New()
	reg := ledger.NewMemory("t::blob::Blob")
	blobs := blob.NewMemory(reg)

	up := backup.NewUploader(nil, blobs, &blob.LocalSigner{}, nil, nil, backup.UploadOptions{})
	for i, msgs := range [][]chat.Message{
		{recovered("m1", 1000, owner, true), recovered("m2", 2000, peer, false)},
		{recovered("m2", 2000, peer, false), recovered("m3", 3000, owner, true)},
	} {
		if _, err := up.PublishData(context.Background(), owner, backup.Encode(msgs, time.UnixMilli(int64(i)))); err != nil {
			t.Fatal(err)
		}
	}
	foreign := blobs.Put([]byte(`{"appId":"other-app"}`))
	reg.RecordBlob(owner, "0xforeign", foreign)

	sc, err := backup.NewScanner(reg, blobs, nil, backup.ScanOptions{BlobType: "t::blob::Blob"})
	if err != nil {
		t.Fatal(err)
	}
	done, unsub := b.Subscribe(bus.KindRecoveryDone, 1)
	defer unsub()

	r := NewReconciler(sc, NewEngine(st, b, nil), b, nil)
	rep, err := r.Reconcile(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scan.Valid != 2 || rep.Scan.Foreign != 1 {
		t.Errorf("scan = %+v", rep.Scan)
	}
	if rep.Recovered != 4 || rep.Stored != 3 || rep.Known != 1 {
		t.Errorf("report = %+v, want 4 recovered, 3 stored, 1 known", rep)
	}

	msgs, err := st.MessagesByChat(owner, chat.NewChatID(owner, peer))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 after dedupe", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].ID, want)
		}
	}

	select {
	case <-done:
	default:
		t.Error("recovery.completed not published")
	}
}
