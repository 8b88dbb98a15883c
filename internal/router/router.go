package router

import (
	"context"
	"fmt"
	"time"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/chat"
	"github.com/matpinto/courtline/internal/presence"
	"github.com/matpinto/courtline/internal/protocol"
	"go.uber.org/zap"
)

// Router translates decoded server events into conversation store
// mutations. It is the only writer driven by inbound traffic: a single
// goroutine consumes the "srv." bus subscription, so every mutation runs
// to completion before the next event is looked at.
type Router struct {
	store    *chat.Store
	presence *presence.Tracker
	bus      *bus.Bus
	logger   *zap.Logger

	typingTTL time.Duration
	cancel    context.CancelFunc
}

// New creates a router. typingTTL bounds how long a typing indicator
// survives a dropped stop event.
func New(store *chat.Store, tracker *presence.Tracker, b *bus.Bus, typingTTL time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		store:     store,
		presence:  tracker,
		bus:       b,
		logger:    logger,
		typingTTL: typingTTL,
	}
}

// Start subscribes to inbound server events on the bus.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("srv.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e, ok := evt.Payload.(protocol.Event)
				if !ok {
					r.logger.Warn("non-event payload on srv namespace", zap.String("kind", evt.Kind))
					continue
				}
				r.Apply(e)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the router.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Apply dispatches one event into the store. Exposed for deterministic
// unit testing without a live socket.
func (r *Router) Apply(evt protocol.Event) {
	switch e := evt.(type) {
	case protocol.NewMessage:
		r.applyMessage(e)
	case protocol.MessageAck:
		// Consumed by the optimistic sender, which owns the pending
		// timers. Nothing to do here.
	case protocol.Typing:
		r.applyTyping(e)
	case protocol.MessagesRead:
		r.applyRead(e)
	case protocol.Presence:
		r.presence.Observe(e.UserID, e.IsOnline, e.LastSeen.Time())
	case protocol.Notification:
		r.bus.Publish(bus.Event{Kind: "notice.received", Payload: e})
	default:
		r.logger.Warn("unhandled event", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func (r *Router) applyMessage(e protocol.NewMessage) {
	msg := chat.Message{
		ID:             chat.MessageID{Server: e.ID, Local: e.ClientMsgID},
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		Type:           chat.MessageType(e.MessageType),
		Content:        e.Content,
		AttachmentURL:  e.AttachmentURL,
		SentAt:         e.SentAt.Time(),
		Read:           e.IsRead,
	}
	if !r.store.ApplyMessage(msg) {
		r.logger.Debug("duplicate message ignored",
			zap.Int64("conversation_id", e.ConversationID),
			zap.Int64("message_id", e.ID))
	}
}

func (r *Router) applyTyping(e protocol.Typing) {
	if e.UserID == r.store.SelfID() {
		return
	}
	if !e.Started {
		r.store.ClearTyping(e.ConversationID, e.UserID)
		return
	}
	gen := r.store.SetTyping(e.ConversationID, e.UserID, e.Username, r.typingTTL)
	conv, user := e.ConversationID, e.UserID
	time.AfterFunc(r.typingTTL, func() {
		r.store.ExpireTyping(conv, user, gen)
	})
}

func (r *Router) applyRead(e protocol.MessagesRead) {
	if e.UserID == r.store.SelfID() {
		// Echo of our own mark_read action: clear any residual unread.
		r.store.MarkRead(e.ConversationID)
		return
	}
	// The remote participant read our messages: receipt display only.
	r.store.MarkReadReceipt(e.ConversationID, e.MessageID)
}
