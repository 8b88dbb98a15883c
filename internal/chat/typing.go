package chat

import "time"

// TypingState is ephemeral and never persisted; entries auto-expire so a
// dropped stop event cannot leave a stuck indicator.

type typingKey struct {
	conv int64
	user int64
}

type typingState struct {
	username string
	gen      uint64
	deadline time.Time
}

// SetTyping records that a user is typing in a conversation until the
// given ttl elapses. It returns a generation number: a later
// ExpireTyping call only clears the entry if the generation still
// matches, so a renewed indicator is not cleared by a stale timer.
func (s *Store) SetTyping(conversationID, userID int64, username string, ttl time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := typingKey{conversationID, userID}
	st, ok := s.typing[key]
	if !ok {
		st = &typingState{}
		s.typing[key] = st
	}
	st.username = username
	st.gen++
	st.deadline = s.now().Add(ttl)
	s.publish("typing.changed", conversationID)
	return st.gen
}

// ClearTyping removes a typing indicator immediately.
func (s *Store) ClearTyping(conversationID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := typingKey{conversationID, userID}
	if _, ok := s.typing[key]; ok {
		delete(s.typing, key)
		s.publish("typing.changed", conversationID)
	}
}

// ExpireTyping clears an indicator if it still belongs to the given
// generation. Called from the expiry timer armed on typing_start.
func (s *Store) ExpireTyping(conversationID, userID int64, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := typingKey{conversationID, userID}
	st, ok := s.typing[key]
	if !ok || st.gen != gen {
		return
	}
	delete(s.typing, key)
	s.publish("typing.changed", conversationID)
}

// TypingUsers returns the usernames currently typing in a conversation.
// Entries past their deadline are filtered out even if no timer has
// fired yet.
func (s *Store) TypingUsers(conversationID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var users []string
	for key, st := range s.typing {
		if key.conv != conversationID {
			continue
		}
		if st.deadline.Before(now) {
			continue
		}
		users = append(users, st.username)
	}
	return users
}
