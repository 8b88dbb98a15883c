package protocol

import (
	"encoding/json"
	"fmt"
)

// Event is the tagged union of decoded server events. The router
// dispatches on the concrete type through a single apply entry point,
// which keeps event handling testable without a live socket.
type Event interface {
	eventType() string
}

// NewMessage is a message pushed for a subscribed conversation. The
// same shape is used for live pushes and for echoes of the local user's
// own sends (which then carry ClientMsgID).
type NewMessage struct {
	ConversationID int64    `json:"conversation_id"`
	ID             int64    `json:"id"`
	SenderID       int64    `json:"sender_id"`
	Content        string   `json:"content"`
	AttachmentURL  string   `json:"attachment_url"`
	MessageType    string   `json:"message_type"`
	SentAt         UnixTime `json:"sent_at"`
	IsRead         bool     `json:"is_read"`
	ClientMsgID    string   `json:"client_msg_id,omitempty"`
}

// MessageAck confirms an optimistic send: it maps the client id to the
// server identity and the authoritative timestamp.
type MessageAck struct {
	ConversationID int64    `json:"conversation_id"`
	ClientMsgID    string   `json:"client_msg_id"`
	ID             int64    `json:"id"`
	SentAt         UnixTime `json:"sent_at"`
}

// Typing reports a remote participant's typing indicator.
type Typing struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	Started        bool   `json:"-"`
}

// MessagesRead reports that a user has read messages up to MessageID.
type MessagesRead struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	MessageID      int64 `json:"message_id"`
}

// Presence is a pushed presence change for a participant.
type Presence struct {
	UserID   int64    `json:"user_id"`
	IsOnline bool     `json:"is_online"`
	LastSeen UnixTime `json:"last_seen"`
}

// Notification is a server-originated notice (including announcements).
type Notification struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (NewMessage) eventType() string   { return FrameNewMessage }
func (MessageAck) eventType() string   { return FrameMessageAck }
func (e Typing) eventType() string {
	if e.Started {
		return FrameUserTyping
	}
	return FrameStopTyping
}
func (MessagesRead) eventType() string { return FrameMessagesRead }
func (Presence) eventType() string     { return FramePresence }
func (Notification) eventType() string { return FrameNotification }

// ErrUnknownFrame reports an inbound frame type this client does not
// understand. Unknown frames are logged and ignored, never fatal.
type ErrUnknownFrame struct {
	Type string
}

func (e *ErrUnknownFrame) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// Decode parses an inbound frame into its typed event. Malformed
// payloads return an error and must never panic: a bad frame cannot be
// allowed to take down the read loop.
func Decode(f Frame) (Event, error) {
	switch f.Type {
	case FrameNewMessage:
		var e NewMessage
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		if e.ID == 0 || e.ConversationID == 0 {
			return nil, fmt.Errorf("decode %s: missing id or conversation_id", f.Type)
		}
		return e, nil
	case FrameMessageAck:
		var e MessageAck
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		if e.ClientMsgID == "" {
			return nil, fmt.Errorf("decode %s: missing client_msg_id", f.Type)
		}
		return e, nil
	case FrameUserTyping, FrameStopTyping:
		var e Typing
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		e.Started = f.Type == FrameUserTyping
		return e, nil
	case FrameMessagesRead:
		var e MessagesRead
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return e, nil
	case FramePresence:
		var e Presence
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return e, nil
	case FrameNotification, FrameAnnouncement:
		var e Notification
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return e, nil
	default:
		return nil, &ErrUnknownFrame{Type: f.Type}
	}
}
