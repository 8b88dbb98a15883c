package sync

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/cache"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/protocol"
	"github.com/matpinto/courtline/internal/rest"
	"github.com/matpinto/courtline/internal/status"
)

const selfID int64 = 10

type fakeFetcher struct {
	convs    []rest.Conversation
	messages map[int64][]protocol.NewMessage
	calls    atomic.Int64
}

func (f *fakeFetcher) ListConversations(context.Context) ([]rest.Conversation, error) {
	f.calls.Add(1)
	return f.convs, nil
}

func (f *fakeFetcher) ListMessages(_ context.Context, conversationID int64, _ time.Time, _ int) ([]protocol.NewMessage, error) {
	return f.messages[conversationID], nil
}

func ts(ms int64) protocol.UnixTime { return protocol.UnixTime(time.UnixMilli(ms)) }

func serverHistory() *fakeFetcher {
	return &fakeFetcher{
		convs: []rest.Conversation{
			{ID: 1, Participant: rest.Player{ID: 20, Username: "ana"}, UpdatedAt: ts(3000)},
			{ID: 2, Participant: rest.Player{ID: 21, Username: "bruno"}, UpdatedAt: ts(2000)},
		},
		messages: map[int64][]protocol.NewMessage{
			// Newest-first, like the HTTP API returns them.
			1: {
				{ID: 3, ConversationID: 1, SenderID: 20, Content: "rematch saturday?", MessageType: "text", SentAt: ts(3000)},
				{ID: 2, ConversationID: 1, SenderID: selfID, Content: "good game", MessageType: "text", SentAt: ts(2500), IsRead: true},
				{ID: 1, ConversationID: 1, SenderID: 20, Content: "nice match", MessageType: "text", SentAt: ts(2000)},
			},
			2: {
				{ID: 10, ConversationID: 2, SenderID: 21, Content: "court booked", MessageType: "text", SentAt: ts(1500)},
			},
		},
	}
}

func newEngine(t *testing.T, f Fetcher) (*Engine, *chat.Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	store := chat.NewStore(selfID, b)

	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewEngine(f, store, db, b, 50, nil), store, b
}

func TestResyncMergesServerState(t *testing.T) {
	e, store, _ := newEngine(t, serverHistory())

	e.Resync(t.Context())

	convs := store.ListConversations()
	if len(convs) != 2 {
		t.Fatalf("conversations = %d, want 2", len(convs))
	}
	if convs[0].ID != 1 {
		t.Errorf("newest conversation = %d, want 1", convs[0].ID)
	}

	msgs := store.Messages(1)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	// Ascending regardless of fetch order.
	for i := 1; i < len(msgs); i++ {
		if msgs[i].SentAt.Before(msgs[i-1].SentAt) {
			t.Fatal("messages not in ascending order")
		}
	}
	// Two unread from ana plus one from bruno; own message excluded.
	if got := store.UnreadTotal(); got != 3 {
		t.Errorf("unread total = %d, want 3", got)
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	e, store, _ := newEngine(t, serverHistory())

	e.Resync(t.Context())
	e.Resync(t.Context())

	if got := len(store.Messages(1)); got != 3 {
		t.Fatalf("messages after double resync = %d, want 3", got)
	}
	if got := store.UnreadTotal(); got != 3 {
		t.Errorf("unread after double resync = %d, want 3", got)
	}
}

func TestResyncDoesNotDuplicateLiveEcho(t *testing.T) {
	f := serverHistory()
	e, store, _ := newEngine(t, f)

	// The socket delivered message 3 while the resync was fetching.
	store.ApplyMessage(chat.Message{
		ID:             chat.MessageID{Server: 3},
		ConversationID: 1,
		SenderID:       20,
		Type:           chat.TypeText,
		Content:        "rematch saturday?",
		SentAt:         time.UnixMilli(3000),
		Delivery:       chat.DeliveryConfirmed,
	})

	e.Resync(t.Context())

	if got := len(store.Messages(1)); got != 3 {
		t.Fatalf("messages = %d, want 3 (echo deduplicated)", got)
	}
}

func TestResyncReconcilesOfflineSend(t *testing.T) {
	f := serverHistory()
	// The server persisted an optimistic send and tagged the echo with
	// our client id.
	f.messages[1] = append([]protocol.NewMessage{
		{ID: 4, ConversationID: 1, SenderID: selfID, Content: "see you there", MessageType: "text", SentAt: ts(3500), IsRead: true, ClientMsgID: "local-9"},
	}, f.messages[1]...)

	e, store, _ := newEngine(t, f)
	store.ApplyMessage(chat.Message{
		ID:             chat.MessageID{Local: "local-9"},
		ConversationID: 1,
		SenderID:       selfID,
		Type:           chat.TypeText,
		Content:        "see you there",
		SentAt:         time.UnixMilli(3400),
		Read:           true,
		Delivery:       chat.DeliveryPending,
	})

	e.Resync(t.Context())

	msgs := store.Messages(1)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	m, ok := store.Local("local-9")
	if !ok {
		t.Fatal("local message lost during resync")
	}
	if !m.ID.IsConfirmed() || m.ID.Server != 4 {
		t.Fatalf("pending send not reconciled: %+v", m.ID)
	}
}

func TestConnectedTransitionTriggersResync(t *testing.T) {
	f := serverHistory()
	e, store, b := newEngine(t, f)

	e.Start(t.Context())
	defer e.Stop()

	machine := status.NewMachine(b)
	if err := machine.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Connected); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.ListConversations()) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("resync never ran after Connected transition")
}

func TestSettleUnsentFlagsStalePending(t *testing.T) {
	e, store, _ := newEngine(t, serverHistory())

	// Simulate a pending send surviving from the previous run.
	if err := e.db.UpsertMessage(&cache.Message{
		ConversationID: 1, LocalID: "local-1", SenderID: selfID,
		Content: "lost send", MessageType: "text", SentAt: 1000,
		Read: true, Delivery: "pending",
	}); err != nil {
		t.Fatal(err)
	}
	store.ApplyMessage(chat.Message{
		ID:             chat.MessageID{Local: "local-1"},
		ConversationID: 1,
		SenderID:       selfID,
		Type:           chat.TypeText,
		Content:        "lost send",
		SentAt:         time.UnixMilli(1000),
		Read:           true,
		Delivery:       chat.DeliveryPending,
	})

	if err := e.SettleUnsent(); err != nil {
		t.Fatal(err)
	}

	m, _ := store.Local("local-1")
	if m.Delivery != chat.DeliveryFailed {
		t.Fatalf("delivery = %s, want failed", m.Delivery)
	}
	unsent, err := e.db.UnsentMessages()
	if err != nil {
		t.Fatal(err)
	}
	if unsent[0].Delivery != "failed" {
		t.Fatalf("cache delivery = %s, want failed", unsent[0].Delivery)
	}
}
