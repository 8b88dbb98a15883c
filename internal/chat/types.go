package chat

import "time"

// MessageType discriminates the mutually exclusive message payloads.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

// Delivery is the local delivery state of a message.
type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryConfirmed Delivery = "confirmed"
	DeliveryFailed    Delivery = "failed"
)

// MessageID identifies a message through its lifecycle. A locally
// originated message starts with only Local set (a client-generated
// UUID); Server is attached once the server confirms it. This avoids
// overloading numeric sentinels for not-yet-confirmed messages.
type MessageID struct {
	Server int64
	Local  string
}

// IsConfirmed reports whether the server has assigned an identity.
func (id MessageID) IsConfirmed() bool { return id.Server != 0 }

// Message is a single message in a conversation.
type Message struct {
	ID             MessageID
	ConversationID int64
	SenderID       int64
	Type           MessageType
	Content        string
	AttachmentURL  string
	SentAt         time.Time
	Read           bool
	Delivery       Delivery
	FailReason     string
}

// Participant is the remote side of a conversation. The local user is
// implicit.
type Participant struct {
	ID       int64
	Username string
}

// Conversation is a two-participant message thread. Conversations are
// created on first message exchange and never deleted.
type Conversation struct {
	ID          int64
	Participant Participant
	LastMessage *Message
	UnreadCount int
	UpdatedAt   time.Time
}
