package cache

import (
	"fmt"
	"time"

	"github.com/matpinto/courtline/internal/chat"
)

// WarmStart replays cached state into the conversation store so the UI
// has content before the first server round trip. Unread counters are
// rebuilt from the replayed read flags, never loaded as numbers.
func (db *DB) WarmStart(store *chat.Store, historyLimit int) error {
	convs, err := db.ListConversations()
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}

	for _, c := range convs {
		store.UpsertConversation(c.ID, chat.Participant{
			ID:       c.ParticipantID,
			Username: c.ParticipantName,
		}, time.UnixMilli(c.UpdatedAt))

		msgs, err := db.ListMessages(c.ID, 0, historyLimit)
		if err != nil {
			return fmt.Errorf("warm start conversation %d: %w", c.ID, err)
		}
		// ListMessages is newest-first; replay oldest-first.
		for i := len(msgs) - 1; i >= 0; i-- {
			store.ApplyMessage(toChatMessage(msgs[i]))
		}
	}
	return nil
}

func toChatMessage(m Message) chat.Message {
	return chat.Message{
		ID:             chat.MessageID{Server: m.ServerID, Local: m.LocalID},
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           chat.MessageType(m.MessageType),
		Content:        m.Content,
		AttachmentURL:  m.AttachmentURL,
		SentAt:         time.UnixMilli(m.SentAt),
		Read:           m.Read,
		Delivery:       chat.Delivery(m.Delivery),
		FailReason:     m.FailReason,
	}
}
