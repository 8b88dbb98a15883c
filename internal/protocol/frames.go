package protocol

import (
	"encoding/json"
	"time"
)

// Frame is the on-wire envelope shared by both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame types (server -> client).
const (
	FrameNewMessage   = "new_message"
	FrameMessageAck   = "message_ack"
	FrameUserTyping   = "user_typing"
	FrameStopTyping   = "user_stop_typing"
	FrameMessagesRead = "messages_read"
	FramePresence     = "presence"
	FrameNotification = "notification"
	FrameAnnouncement = "announcement"
)

// Outbound frame types (client -> server).
const (
	FrameJoinChat    = "join_chat"
	FrameLeaveChat   = "leave_chat"
	FrameSendMessage = "send_message"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
	FrameMarkRead    = "mark_read"
	FrameHeartbeat   = "heartbeat"
)

func mustFrame(typ string, payload any) Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload structs below contain only marshallable fields.
		panic(err)
	}
	return Frame{Type: typ, Payload: raw}
}

// JoinChat subscribes to a conversation's event stream.
func JoinChat(conversationID int64) Frame {
	return mustFrame(FrameJoinChat, convRef{ConversationID: conversationID})
}

// LeaveChat unsubscribes from a conversation's event stream.
func LeaveChat(conversationID int64) Frame {
	return mustFrame(FrameLeaveChat, convRef{ConversationID: conversationID})
}

// SendMessage carries an outgoing message. ClientMsgID lets the server
// ack echo back to the optimistic copy.
func SendMessage(conversationID int64, content, messageType, clientMsgID string) Frame {
	return mustFrame(FrameSendMessage, sendPayload{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageType,
		ClientMsgID:    clientMsgID,
	})
}

// TypingStart signals the local user started typing.
func TypingStart(conversationID int64) Frame {
	return mustFrame(FrameTypingStart, convRef{ConversationID: conversationID})
}

// TypingStop signals the local user stopped typing.
func TypingStop(conversationID int64) Frame {
	return mustFrame(FrameTypingStop, convRef{ConversationID: conversationID})
}

// MarkRead reports the local user has read up to the given message.
func MarkRead(conversationID, messageID int64) Frame {
	return mustFrame(FrameMarkRead, markReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// Heartbeat is the periodic liveness signal.
func Heartbeat() Frame {
	return Frame{Type: FrameHeartbeat}
}

type convRef struct {
	ConversationID int64 `json:"conversation_id"`
}

type sendPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
	ClientMsgID    string `json:"client_msg_id"`
}

type markReadPayload struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

// UnixTime decodes a unix-milliseconds JSON number into time.Time.
type UnixTime time.Time

func (t *UnixTime) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*t = UnixTime(time.UnixMilli(ms).UTC())
	return nil
}

func (t UnixTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UnixMilli())
}

// Time returns the underlying time.Time.
func (t UnixTime) Time() time.Time { return time.Time(t) }
