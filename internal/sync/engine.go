package sync

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/cache"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/protocol"
	"github.com/matpinto/courtline/internal/rest"
	"github.com/matpinto/courtline/internal/status"
	"go.uber.org/zap"
)

// checkpointKey records when the last full resync completed.
const checkpointKey = "last_resync_ms"

// Fetcher is the slice of the HTTP client the engine needs.
type Fetcher interface {
	ListConversations(ctx context.Context) ([]rest.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, before time.Time, limit int) ([]protocol.NewMessage, error)
}

// Engine reconciles local state with the server after every connect.
// Messages sent by others while we were offline arrive only through
// this path; because store application is idempotent, overlapping a
// resync with live socket traffic cannot duplicate anything.
type Engine struct {
	fetcher      Fetcher
	store        *chat.Store
	db           *cache.DB
	bus          *bus.Bus
	logger       *zap.Logger
	historyLimit int

	inflight atomic.Bool
	cancel   context.CancelFunc
}

// NewEngine creates an engine. historyLimit caps messages fetched per
// conversation on each resync.
func NewEngine(fetcher Fetcher, store *chat.Store, db *cache.DB, b *bus.Bus, historyLimit int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Engine{
		fetcher:      fetcher,
		store:        store,
		db:           db,
		bus:          b,
		logger:       logger.Named("sync"),
		historyLimit: historyLimit,
	}
}

// Start watches connection events and resyncs on every transition into
// Connected, which covers both the first connect and every recovery.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("conn.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok || change.To != status.Connected {
					continue
				}
				go e.Resync(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Resync pulls the conversation list and recent history and merges both
// into the store. Safe to call concurrently; extra calls are dropped
// while one is running.
func (e *Engine) Resync(ctx context.Context) {
	if !e.inflight.CompareAndSwap(false, true) {
		return
	}
	defer e.inflight.Store(false)

	started := time.Now()
	convs, err := e.fetcher.ListConversations(ctx)
	if err != nil {
		e.logger.Error("resync: list conversations", zap.Error(err))
		return
	}

	msgCount := 0
	for _, c := range convs {
		e.store.UpsertConversation(c.ID, chat.Participant{
			ID:       c.Participant.ID,
			Username: c.Participant.Username,
		}, c.UpdatedAt.Time())

		msgs, err := e.fetcher.ListMessages(ctx, c.ID, time.Time{}, e.historyLimit)
		if err != nil {
			e.logger.Error("resync: list messages",
				zap.Int64("conversation_id", c.ID),
				zap.Error(err))
			continue
		}
		// History pages come newest-first; apply oldest-first.
		for i := len(msgs) - 1; i >= 0; i-- {
			if e.store.ApplyMessage(toChatMessage(msgs[i])) {
				msgCount++
			}
		}
	}

	if e.db != nil {
		if err := e.db.SetSyncState(checkpointKey, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
			e.logger.Warn("resync: checkpoint", zap.Error(err))
		}
	}

	e.logger.Info("resync complete",
		zap.Int("conversations", len(convs)),
		zap.Int("new_messages", msgCount),
		zap.Duration("took", time.Since(started)))
	e.bus.Publish(bus.Event{
		Kind:      "sync.completed",
		Timestamp: time.Now(),
		Payload:   Summary{Conversations: len(convs), NewMessages: msgCount},
	})
}

// Summary is the payload of "sync.completed".
type Summary struct {
	Conversations int
	NewMessages   int
}

func toChatMessage(m protocol.NewMessage) chat.Message {
	return chat.Message{
		ID:             chat.MessageID{Server: m.ID, Local: m.ClientMsgID},
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           chat.MessageType(m.MessageType),
		Content:        m.Content,
		AttachmentURL:  m.AttachmentURL,
		SentAt:         m.SentAt.Time(),
		Read:           m.IsRead,
	}
}
