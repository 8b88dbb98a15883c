package cache

import "time"

// Conversation is a cached conversation row. Unread counts are not
// persisted: they are recomputed from message read flags on warm start,
// so the cache can never disagree with the in-memory invariant.
type Conversation struct {
	ID                 int64
	ParticipantID      int64
	ParticipantName    string
	LastMessagePreview string
	LastMessageAt      int64
	UpdatedAt          int64
}

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, participant_id, participant_name, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_id = excluded.participant_id,
			participant_name = excluded.participant_name,
			last_message_preview = excluded.last_message_preview,
			last_message_at = MAX(last_message_at, excluded.last_message_at),
			updated_at = MAX(updated_at, excluded.updated_at)`,
		c.ID, c.ParticipantID, c.ParticipantName, c.LastMessagePreview, c.LastMessageAt, now)
	return err
}

// ListConversations returns conversations newest-activity first.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, participant_id, participant_name, last_message_preview, last_message_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.ParticipantName, &c.LastMessagePreview, &c.LastMessageAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
