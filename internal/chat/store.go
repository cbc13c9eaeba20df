package chat

import "sort"

// Store holds the ordered, deduplicated message set for one room. Messages
// are kept sorted by CreatedAt with insertion order as tiebreak. The Store
// does no locking of its own; the Reconciler serialises all access.
type Store struct {
	messages []Message
	ids      map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// Insert adds a message at its sorted position. Inserting an id the store
// already holds is a no-op, so duplicate server deliveries are harmless.
// Reports whether an insertion occurred.
func (s *Store) Insert(msg Message) bool {
	if _, ok := s.ids[msg.ID]; ok {
		return false
	}
	s.ids[msg.ID] = struct{}{}

	// First index whose timestamp is strictly later: equal timestamps keep
	// insertion order.
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	return true
}

// ConfirmPending replaces the pending message identified by tempID with its
// server-confirmed version, keeping its display position unless the confirmed
// timestamp breaks the ordering invariant, in which case the slice is
// re-sorted stably. If the server echo was already inserted under its own id,
// the pending entry is simply dropped. Reports whether tempID was found.
func (s *Store) ConfirmPending(tempID string, confirmed Message) bool {
	i := s.index(tempID)
	if i < 0 {
		return false
	}
	delete(s.ids, tempID)

	if _, ok := s.ids[confirmed.ID]; ok {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		return true
	}

	s.ids[confirmed.ID] = struct{}{}
	s.messages[i] = confirmed
	if !s.sorted() {
		sort.SliceStable(s.messages, func(a, b int) bool {
			return s.messages[a].CreatedAt.Before(s.messages[b].CreatedAt)
		})
	}
	return true
}

// MarkFailed flips the message to failed, keeping it visible so the UI can
// offer a retry. Reports whether tempID was found.
func (s *Store) MarkFailed(tempID string) bool {
	i := s.index(tempID)
	if i < 0 {
		return false
	}
	s.messages[i].State = MessageFailed
	return true
}

// Remove deletes the message with the given id, typically a failed entry
// being replaced by a manual resend. Reports whether it was present.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	delete(s.ids, id)
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	if i := s.index(id); i >= 0 {
		return s.messages[i], true
	}
	return Message{}, false
}

// All returns a fresh copy of the ordered message sequence.
func (s *Store) All() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages held.
func (s *Store) Len() int { return len(s.messages) }

func (s *Store) index(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) sorted() bool {
	for i := 1; i < len(s.messages); i++ {
		if s.messages[i].CreatedAt.Before(s.messages[i-1].CreatedAt) {
			return false
		}
	}
	return true
}
