package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func frame(t *testing.T, typ, payload string) Frame {
	t.Helper()
	return Frame{Type: typ, Payload: json.RawMessage(payload)}
}

func TestDecodeNewMessage(t *testing.T) {
	f := frame(t, "new_message",
		`{"conversation_id":3,"id":42,"sender_id":9,"content":"match at 6?","message_type":"text","sent_at":1767000000000,"is_read":false}`)

	evt, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	m, ok := evt.(NewMessage)
	if !ok {
		t.Fatalf("event type = %T, want NewMessage", evt)
	}
	if m.ConversationID != 3 || m.ID != 42 || m.SenderID != 9 {
		t.Errorf("ids = %d/%d/%d", m.ConversationID, m.ID, m.SenderID)
	}
	if m.Content != "match at 6?" || m.MessageType != "text" {
		t.Errorf("content = %q type = %q", m.Content, m.MessageType)
	}
	if !m.SentAt.Time().Equal(time.UnixMilli(1767000000000).UTC()) {
		t.Errorf("sent_at = %v", m.SentAt.Time())
	}
}

func TestDecodeNewMessageWithClientID(t *testing.T) {
	f := frame(t, "new_message",
		`{"conversation_id":3,"id":42,"sender_id":9,"content":"hi","message_type":"text","sent_at":1,"client_msg_id":"c-1"}`)

	evt, err := Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if evt.(NewMessage).ClientMsgID != "c-1" {
		t.Error("client_msg_id not decoded")
	}
}

func TestDecodeNewMessageRejectsMissingIDs(t *testing.T) {
	f := frame(t, "new_message", `{"content":"orphan"}`)
	if _, err := Decode(f); err == nil {
		t.Error("Decode() should reject a message without ids")
	}
}

func TestDecodeMessageAck(t *testing.T) {
	f := frame(t, "message_ack", `{"conversation_id":3,"client_msg_id":"c-9","id":77,"sent_at":5000}`)

	evt, err := Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	ack := evt.(MessageAck)
	if ack.ClientMsgID != "c-9" || ack.ID != 77 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestDecodeMessageAckRequiresClientID(t *testing.T) {
	f := frame(t, "message_ack", `{"conversation_id":3,"id":77}`)
	if _, err := Decode(f); err == nil {
		t.Error("Decode() should reject an ack without client_msg_id")
	}
}

func TestDecodeTyping(t *testing.T) {
	start, err := Decode(frame(t, "user_typing", `{"conversation_id":3,"user_id":9,"username":"alice"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ty := start.(Typing); !ty.Started || ty.Username != "alice" {
		t.Errorf("typing = %+v, want started alice", ty)
	}

	stop, err := Decode(frame(t, "user_stop_typing", `{"conversation_id":3,"user_id":9,"username":"alice"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ty := stop.(Typing); ty.Started {
		t.Error("user_stop_typing decoded as started")
	}
}

func TestDecodeMessagesRead(t *testing.T) {
	evt, err := Decode(frame(t, "messages_read", `{"conversation_id":3,"user_id":9,"message_id":40}`))
	if err != nil {
		t.Fatal(err)
	}
	mr := evt.(MessagesRead)
	if mr.MessageID != 40 || mr.UserID != 9 {
		t.Errorf("messages_read = %+v", mr)
	}
}

func TestDecodePresence(t *testing.T) {
	evt, err := Decode(frame(t, "presence", `{"user_id":9,"is_online":true,"last_seen":123456}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.(Presence)
	if !p.IsOnline || p.UserID != 9 {
		t.Errorf("presence = %+v", p)
	}
}

func TestDecodeAnnouncementAsNotification(t *testing.T) {
	evt, err := Decode(frame(t, "announcement", `{"type":"maintenance","title":"Downtime","message":"Sunday 02:00"}`))
	if err != nil {
		t.Fatal(err)
	}
	n := evt.(Notification)
	if n.Title != "Downtime" {
		t.Errorf("notification = %+v", n)
	}
}

func TestDecodeUnknownFrame(t *testing.T) {
	_, err := Decode(frame(t, "message_deleted", `{}`))
	var unknown *ErrUnknownFrame
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want ErrUnknownFrame", err)
	}
	if unknown.Type != "message_deleted" {
		t.Errorf("unknown type = %q", unknown.Type)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	payloads := []string{
		`{"conversation_id":"not-a-number"}`,
		`[]`,
		`{`,
	}
	for _, p := range payloads {
		if _, err := Decode(frame(t, "new_message", p)); err == nil {
			t.Errorf("Decode(%q) should fail", p)
		}
	}
}

func TestOutboundFrames(t *testing.T) {
	tests := []struct {
		frame    Frame
		wantType string
		wantJSON string
	}{
		{JoinChat(3), "join_chat", `{"conversation_id":3}`},
		{LeaveChat(3), "leave_chat", `{"conversation_id":3}`},
		{TypingStart(3), "typing_start", `{"conversation_id":3}`},
		{TypingStop(3), "typing_stop", `{"conversation_id":3}`},
		{MarkRead(3, 42), "mark_read", `{"conversation_id":3,"message_id":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			if tt.frame.Type != tt.wantType {
				t.Errorf("type = %q, want %q", tt.frame.Type, tt.wantType)
			}
			if string(tt.frame.Payload) != tt.wantJSON {
				t.Errorf("payload = %s, want %s", tt.frame.Payload, tt.wantJSON)
			}
		})
	}
}

func TestSendMessageFrame(t *testing.T) {
	f := SendMessage(3, "hello", "text", "c-1")
	if f.Type != "send_message" {
		t.Errorf("type = %q", f.Type)
	}
	var p map[string]any
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p["client_msg_id"] != "c-1" || p["content"] != "hello" {
		t.Errorf("payload = %v", p)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := SendMessage(3, "hello", "text", "c-1")
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var back Frame
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Type != f.Type || string(back.Payload) != string(f.Payload) {
		t.Errorf("round trip mismatch: %+v vs %+v", back, f)
	}
}
