package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/matpinto/courtline/internal/bus"
)

// Store is the canonical in-memory model of conversations, messages and
// unread counters. It is the single mutable source of truth: every other
// component either reads through it or produces well-formed commands into
// it. Mutations run to completion under one mutex, so no observer can see
// a half-applied event.
//
// Counter discipline: for every conversation, UnreadCount equals the
// number of stored messages with Read=false sent by the remote
// participant, and the global total equals the sum over all
// conversations. This holds after every mutation, not just eventually.
type Store struct {
	mu   sync.Mutex
	self int64
	bus  *bus.Bus
	now  func() time.Time

	convs    map[int64]*Conversation
	msgs     map[int64][]*Message // ascending SentAt
	byServer map[serverKey]*Message
	byLocal  map[string]*Message

	active int64
	total  int

	typing map[typingKey]*typingState
}

type serverKey struct {
	conv int64
	id   int64
}

// NewStore creates a store for the given local user. The bus may be nil
// (no mutation events are published then).
func NewStore(selfID int64, b *bus.Bus) *Store {
	return &Store{
		self:     selfID,
		bus:      b,
		now:      time.Now,
		convs:    make(map[int64]*Conversation),
		msgs:     make(map[int64][]*Message),
		byServer: make(map[serverKey]*Message),
		byLocal:  make(map[string]*Message),
		typing:   make(map[typingKey]*typingState),
	}
}

// SelfID returns the local user id.
func (s *Store) SelfID() int64 { return s.self }

// ListConversations returns conversation snapshots ordered by UpdatedAt
// descending (most recently active first).
func (s *Store) ListConversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Store) Conversation(id int64) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// Messages returns message snapshots for a conversation in ascending
// SentAt order. Render direction is the caller's concern.
func (s *Store) Messages(conversationID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.msgs[conversationID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// ActiveID returns the currently active conversation id, 0 if none.
func (s *Store) ActiveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// UnreadTotal returns the global unread badge value.
func (s *Store) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// SetActive marks a conversation as the one being viewed, atomically
// zeroing its unread counter and subtracting the prior value from the
// global total. Passing 0 deactivates. The caller is expected to follow
// up with a mark_read command to the server; the store only updates
// local state optimistically. Returns the number of messages cleared.
func (s *Store) SetActive(conversationID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = conversationID
	if conversationID == 0 {
		return 0
	}
	return s.markReadLocked(conversationID)
}

// MarkRead marks every remote-sent message in the conversation as read
// and zeroes its unread counter. Applied when the server echoes the
// local user's own mark_read action.
func (s *Store) MarkRead(conversationID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markReadLocked(conversationID)
}

func (s *Store) markReadLocked(conversationID int64) int {
	c, ok := s.convs[conversationID]
	if !ok {
		return 0
	}
	cleared := c.UnreadCount
	for _, m := range s.msgs[conversationID] {
		if m.SenderID != s.self {
			m.Read = true
		}
	}
	s.total -= c.UnreadCount
	c.UnreadCount = 0
	if cleared > 0 {
		s.publish("conversation.read", ReadPayload{ConversationID: conversationID, Cleared: cleared})
	}
	return cleared
}

// MarkReadReceipt records that the remote participant has read the local
// user's messages up to and including the given server id. This affects
// read-receipt display only; unread counters never count self-authored
// messages.
func (s *Store) MarkReadReceipt(conversationID, upToServerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upTo, ok := s.byServer[serverKey{conversationID, upToServerID}]
	for _, m := range s.msgs[conversationID] {
		if m.SenderID != s.self {
			continue
		}
		if !ok || !m.SentAt.After(upTo.SentAt) {
			m.Read = true
		}
	}
	s.publish("conversation.receipt", ReadPayload{ConversationID: conversationID})
}

// UpsertConversation merges conversation metadata fetched from the REST
// collaborator. Unread counters are never adopted from the server: they
// are always derived from the raw messages held locally, so the counter
// discipline stays checkable against store contents.
func (s *Store) UpsertConversation(id int64, p Participant, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureConversationLocked(id)
	if p.ID != 0 {
		c.Participant = p
	}
	if updatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = updatedAt
	}
	s.publish("conversation.updated", *c)
}

// ApplyMessage inserts a message into its conversation, creating the
// conversation lazily. The operation is idempotent: a message whose
// server id (or pending local id) is already present is a no-op, so a
// REST history page racing a live push merges cleanly regardless of
// arrival order. Returns true if the store changed.
func (s *Store) ApplyMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID.IsConfirmed() {
		key := serverKey{m.ConversationID, m.ID.Server}
		if _, dup := s.byServer[key]; dup {
			return false
		}
		if m.ID.Local != "" {
			if pending, ok := s.byLocal[m.ID.Local]; ok && !pending.ID.IsConfirmed() {
				// Server echo of an optimistic send: reconcile in place
				// instead of appending a second copy.
				s.confirmLocked(pending, m.ID.Server, m.SentAt)
				return true
			}
		}
		if m.Delivery == "" {
			m.Delivery = DeliveryConfirmed
		}
	} else {
		if m.ID.Local == "" {
			return false
		}
		if _, dup := s.byLocal[m.ID.Local]; dup {
			return false
		}
		if m.Delivery == "" {
			m.Delivery = DeliveryPending
		}
	}

	c := s.ensureConversationLocked(m.ConversationID)
	if c.Participant.ID == 0 && m.SenderID != s.self {
		c.Participant.ID = m.SenderID
	}

	if m.SenderID != s.self && m.ConversationID == s.active {
		// Messages arriving into the conversation being viewed are read
		// on arrival, keeping the unread counter at zero for the active
		// conversation. Read on self-authored messages is receipt state
		// and is left as delivered.
		m.Read = true
	}

	msg := m
	s.insertSortedLocked(&msg)
	if msg.ID.IsConfirmed() {
		s.byServer[serverKey{msg.ConversationID, msg.ID.Server}] = &msg
	}
	if msg.ID.Local != "" {
		s.byLocal[msg.ID.Local] = &msg
	}

	if !msg.Read && msg.SenderID != s.self {
		c.UnreadCount++
		s.total++
	}

	s.touchLocked(c, &msg)
	s.publish("message.applied", msg)
	return true
}

// ConfirmLocal promotes a pending message to its server identity with
// the authoritative timestamp. The message keeps its position semantics:
// it is re-sorted by the server SentAt, not appended again.
func (s *Store) ConfirmLocal(localID string, serverID int64, sentAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byLocal[localID]
	if !ok || m.ID.IsConfirmed() {
		return false
	}
	s.confirmLocked(m, serverID, sentAt)
	return true
}

func (s *Store) confirmLocked(m *Message, serverID int64, sentAt time.Time) {
	m.ID.Server = serverID
	if !sentAt.IsZero() {
		m.SentAt = sentAt
	}
	m.Delivery = DeliveryConfirmed
	m.FailReason = ""
	s.byServer[serverKey{m.ConversationID, serverID}] = m
	s.resortLocked(m.ConversationID)

	if c, ok := s.convs[m.ConversationID]; ok {
		s.touchLocked(c, m)
	}
	s.publish("message.confirmed", *m)
}

// FailLocal flags a pending message as failed. The message stays visible
// so the caller can offer a retry; it is never left pending forever.
func (s *Store) FailLocal(localID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byLocal[localID]
	if !ok || m.ID.IsConfirmed() || m.Delivery == DeliveryFailed {
		return false
	}
	m.Delivery = DeliveryFailed
	m.FailReason = reason
	s.publish("message.failed", *m)
	return true
}

// RetryLocal moves a failed message back to pending ahead of a resend
// attempt. The local id is preserved so a late acknowledgement of any
// attempt confirms the same message.
func (s *Store) RetryLocal(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byLocal[localID]
	if !ok || m.Delivery != DeliveryFailed {
		return false
	}
	m.Delivery = DeliveryPending
	m.FailReason = ""
	s.publish("message.updated", *m)
	return true
}

// Local returns a snapshot of a locally originated message by its local id.
func (s *Store) Local(localID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byLocal[localID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Recount recomputes unread counters from raw message state. Test hook:
// callers assert equality with the cached counters after every step.
func (s *Store) Recount() (map[int64]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perConv := make(map[int64]int, len(s.convs))
	total := 0
	for id := range s.convs {
		n := 0
		for _, m := range s.msgs[id] {
			if !m.Read && m.SenderID != s.self {
				n++
			}
		}
		perConv[id] = n
		total += n
	}
	return perConv, total
}

// CachedUnread returns the cached per-conversation counters and total,
// for comparison against Recount.
func (s *Store) CachedUnread() (map[int64]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perConv := make(map[int64]int, len(s.convs))
	for id, c := range s.convs {
		perConv[id] = c.UnreadCount
	}
	return perConv, s.total
}

func (s *Store) ensureConversationLocked(id int64) *Conversation {
	c, ok := s.convs[id]
	if !ok {
		c = &Conversation{ID: id}
		s.convs[id] = c
	}
	return c
}

// touchLocked updates the denormalized last-message pointer and the
// conversation's list-ordering timestamp. UpdatedAt is monotonic per
// conversation: an old message merged from history never moves a
// conversation forward in the list.
func (s *Store) touchLocked(c *Conversation, m *Message) {
	if c.LastMessage == nil || !m.SentAt.Before(c.LastMessage.SentAt) {
		c.LastMessage = m
	}
	if m.SentAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.SentAt
	}
	s.publish("conversation.updated", *c)
}

func (s *Store) insertSortedLocked(m *Message) {
	list := s.msgs[m.ConversationID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].SentAt.After(m.SentAt)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = m
	s.msgs[m.ConversationID] = list
}

func (s *Store) resortLocked(conversationID int64) {
	list := s.msgs[conversationID]
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].SentAt.Before(list[j].SentAt)
	})
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: s.now(), Payload: payload})
}

// ReadPayload accompanies "conversation.read" and "conversation.receipt"
// events.
type ReadPayload struct {
	ConversationID int64
	Cleared        int
}
