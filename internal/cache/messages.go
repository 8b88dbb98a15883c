package cache

import (
	"database/sql"
	"time"
)

// Message is a cached message row. ServerID is NULL for optimistic
// sends that were never acknowledged.
type Message struct {
	ID             int64
	ConversationID int64
	ServerID       int64 // 0 when unconfirmed
	LocalID        string
	SenderID       int64
	Content        string
	AttachmentURL  string
	MessageType    string
	SentAt         int64
	Read           bool
	Delivery       string
	FailReason     string
}

// UpsertMessage writes a message idempotently. Confirmed messages key
// on (conversation_id, server_id); unconfirmed ones on local_id. A
// confirmed insert never writes a local_id: the promotion path in
// ConfirmMessage owns that column, which keeps the two unique indexes
// from fighting over one row.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	if m.ServerID != 0 {
		_, err := db.Exec(`
			INSERT INTO messages (conversation_id, server_id, local_id, sender_id, content, attachment_url, message_type, sent_at, is_read, delivery, fail_reason, created_at)
			VALUES (?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, server_id) WHERE server_id IS NOT NULL DO UPDATE SET
				content = excluded.content,
				is_read = excluded.is_read,
				delivery = excluded.delivery,
				fail_reason = excluded.fail_reason`,
			m.ConversationID, m.ServerID, m.SenderID, m.Content, m.AttachmentURL, m.MessageType, m.SentAt, m.Read, m.Delivery, m.FailReason, now)
		return err
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, server_id, local_id, sender_id, content, attachment_url, message_type, sent_at, is_read, delivery, fail_reason, created_at)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) WHERE local_id != '' DO UPDATE SET
			content = excluded.content,
			delivery = excluded.delivery,
			fail_reason = excluded.fail_reason`,
		m.ConversationID, m.LocalID, m.SenderID, m.Content, m.AttachmentURL, m.MessageType, m.SentAt, m.Read, m.Delivery, m.FailReason, now)
	return err
}

// ConfirmMessage promotes an unconfirmed row to its server identity.
// When the server already delivered the message through another path
// the stale local row is removed instead of promoted.
func (db *DB) ConfirmMessage(localID string, serverID, sentAt int64) error {
	res, err := db.Exec(`
		UPDATE messages SET server_id = ?, sent_at = ?, delivery = 'confirmed', fail_reason = ''
		WHERE local_id = ? AND server_id IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM messages dup
			WHERE dup.conversation_id = messages.conversation_id AND dup.server_id = ?
		)`,
		serverID, sentAt, localID, serverID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = db.Exec(`DELETE FROM messages WHERE local_id = ? AND server_id IS NULL`, localID)
	}
	return err
}

// MarkFailed flags an unconfirmed message as failed.
func (db *DB) MarkFailed(localID, reason string) error {
	_, err := db.Exec(`
		UPDATE messages SET delivery = 'failed', fail_reason = ?
		WHERE local_id = ? AND server_id IS NULL`, reason, localID)
	return err
}

// MarkPending moves a failed message back to pending for a retry.
func (db *DB) MarkPending(localID string) error {
	_, err := db.Exec(`
		UPDATE messages SET delivery = 'pending', fail_reason = ''
		WHERE local_id = ? AND server_id IS NULL`, localID)
	return err
}

// MarkConversationRead flags every inbound message in a conversation as
// read.
func (db *DB) MarkConversationRead(conversationID, selfID int64) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id != ?`, conversationID, selfID)
	return err
}

// ListMessages returns a conversation's messages using keyset
// pagination by sent_at, newest first.
func (db *DB) ListMessages(conversationID, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, COALESCE(server_id, 0), local_id, sender_id, content, attachment_url, message_type, sent_at, is_read, delivery, fail_reason
		FROM messages
		WHERE conversation_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

// UnsentMessages returns pending and failed optimistic sends, oldest
// first, for settlement after a restart.
func (db *DB) UnsentMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, COALESCE(server_id, 0), local_id, sender_id, content, attachment_url, message_type, sent_at, is_read, delivery, fail_reason
		FROM messages
		WHERE server_id IS NULL
		ORDER BY sent_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ServerID, &m.LocalID, &m.SenderID, &m.Content, &m.AttachmentURL, &m.MessageType, &m.SentAt, &m.Read, &m.Delivery, &m.FailReason); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
