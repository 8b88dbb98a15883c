package cache

import (
	"context"

	"github.com/matpinto/courtline/internal/bus"
	"github.com/matpinto/courtline/internal/chat"
	"go.uber.org/zap"
)

// Mirror subscribes to conversation store events and writes every
// mutation through to the cache. It is strictly downstream: a write
// failure degrades the next warm start but never blocks the store.
type Mirror struct {
	db     *DB
	store  *chat.Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMirror creates a mirror.
func NewMirror(db *DB, store *chat.Store, b *bus.Bus, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{db: db, store: store, bus: b, logger: logger.Named("cache")}
}

// Start begins mirroring store events.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := m.bus.Subscribe("message.", 256)
	convCh, unsubConv := m.bus.Subscribe("conversation.", 256)

	go func() {
		defer unsubMsg()
		defer unsubConv()
		for {
			select {
			case evt := <-msgCh:
				m.handleMessage(evt)
			case evt := <-convCh:
				m.handleConversation(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops mirroring.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Mirror) handleMessage(evt bus.Event) {
	msg, ok := evt.Payload.(chat.Message)
	if !ok {
		return
	}
	switch evt.Kind {
	case "message.applied":
		if err := m.db.UpsertMessage(fromChatMessage(msg)); err != nil {
			m.logger.Warn("mirror message", zap.Error(err))
		}
	case "message.confirmed":
		if err := m.db.ConfirmMessage(msg.ID.Local, msg.ID.Server, msg.SentAt.UnixMilli()); err != nil {
			m.logger.Warn("mirror confirm", zap.Error(err))
		}
	case "message.failed":
		if err := m.db.MarkFailed(msg.ID.Local, msg.FailReason); err != nil {
			m.logger.Warn("mirror fail", zap.Error(err))
		}
	case "message.updated":
		if err := m.db.MarkPending(msg.ID.Local); err != nil {
			m.logger.Warn("mirror retry", zap.Error(err))
		}
	}
}

func (m *Mirror) handleConversation(evt bus.Event) {
	switch evt.Kind {
	case "conversation.updated":
		conv, ok := evt.Payload.(chat.Conversation)
		if !ok {
			return
		}
		row := &Conversation{
			ID:              conv.ID,
			ParticipantID:   conv.Participant.ID,
			ParticipantName: conv.Participant.Username,
			UpdatedAt:       conv.UpdatedAt.UnixMilli(),
		}
		if conv.LastMessage != nil {
			row.LastMessagePreview = conv.LastMessage.Content
			row.LastMessageAt = conv.LastMessage.SentAt.UnixMilli()
		}
		if err := m.db.UpsertConversation(row); err != nil {
			m.logger.Warn("mirror conversation", zap.Error(err))
		}
	case "conversation.read":
		p, ok := evt.Payload.(chat.ReadPayload)
		if !ok {
			return
		}
		if err := m.db.MarkConversationRead(p.ConversationID, m.store.SelfID()); err != nil {
			m.logger.Warn("mirror read", zap.Error(err))
		}
	}
}

func fromChatMessage(msg chat.Message) *Message {
	return &Message{
		ConversationID: msg.ConversationID,
		ServerID:       msg.ID.Server,
		LocalID:        msg.ID.Local,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		AttachmentURL:  msg.AttachmentURL,
		MessageType:    string(msg.Type),
		SentAt:         msg.SentAt.UnixMilli(),
		Read:           msg.Read,
		Delivery:       string(msg.Delivery),
		FailReason:     msg.FailReason,
	}
}
