package session

import (
	"errors"
	"sync"
	"time"

	chatclient "github.com/creastat/chatclient"
)

// Store-level errors.
var (
	ErrConversationNotFound = errors.New("conversation not found in store")
	ErrMessageNotFound      = errors.New("message not found in conversation")
	ErrAlreadyPersisted     = errors.New("conversation already has a server id")
)

// View is the read-only projection exposed to the presentation layer.
type View struct {
	Conversations []ConversationSummary
	Active        *Conversation // deep copy; nil when the store is empty
}

// Store owns all conversation and message state in the client process.
// Every mutation goes through one of its operations; the controller and
// presentation layer never touch the data directly. A mutex guards the
// table so the presentation layer may read while a send is in flight;
// logically there is a single writer per conversation at any instant.
type Store struct {
	mu            sync.RWMutex
	conversations []*Conversation
	activeLocal   string // LocalID of the active conversation, "" = none
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// UpsertConversation inserts the conversation or, when one with the same
// server id or local id already exists, refreshes its title and
// timestamps while preserving its message history and load state.
// Returns the LocalID under which the conversation is held.
func (s *Store) UpsertConversation(conv Conversation) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.LocalID == "" {
		conv.LocalID = chatclient.NewLocalConversationID()
	}

	if existing := s.lookupEither(conv.ID, conv.LocalID); existing != nil {
		existing.Title = conv.Title
		if conv.CreatedAt != 0 {
			existing.CreatedAt = conv.CreatedAt
		}
		if conv.UpdatedAt != 0 {
			existing.UpdatedAt = conv.UpdatedAt
		}
		return existing.LocalID
	}

	c := conv
	s.conversations = append(s.conversations, &c)
	return c.LocalID
}

// SelectConversation marks the conversation as active. The id may be a
// server id or a local id.
func (s *Store) SelectConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.lookup(id)
	if conv == nil {
		return ErrConversationNotFound
	}
	s.activeLocal = conv.LocalID
	return nil
}

// ActiveConversation returns a deep copy of the active conversation, or
// false when nothing is selected.
func (s *Store) ActiveConversation() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.lookup(s.activeLocal)
	if conv == nil {
		return Conversation{}, false
	}
	return cloneConversation(conv), true
}

// Conversation returns a deep copy of the conversation with the given
// server or local id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.lookup(id)
	if conv == nil {
		return Conversation{}, false
	}
	return cloneConversation(conv), true
}

// AppendMessage appends a message to the end of the conversation's
// transcript. Insertion order is the only ordering; optimistic and
// server-confirmed messages interleave by design.
func (s *Store) AppendMessage(conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.lookup(conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// ReplaceMessage swaps the message with id oldID for msg at the same
// ordinal position. Used to reconcile a pending placeholder with the
// server-confirmed answer.
func (s *Store) ReplaceMessage(conversationID, oldID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.lookup(conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == oldID {
			conv.Messages[i] = msg
			conv.UpdatedAt = time.Now().UnixMilli()
			return nil
		}
	}
	return ErrMessageNotFound
}

// RemoveMessage deletes the message with the given id, closing the gap.
func (s *Store) RemoveMessage(conversationID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.lookup(conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == id {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			conv.UpdatedAt = time.Now().UnixMilli()
			return nil
		}
	}
	return ErrMessageNotFound
}

// RemoveConversation deletes a conversation. If it was active, the
// selection falls back to the first remaining conversation so the active
// reference always names an element of the table.
func (s *Store) RemoveConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, conv := range s.conversations {
		if conv.LocalID == id || (conv.ID != "" && conv.ID == id) {
			wasActive := conv.LocalID == s.activeLocal
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			if wasActive {
				s.activeLocal = ""
				if len(s.conversations) > 0 {
					s.activeLocal = s.conversations[0].LocalID
				}
			}
			return nil
		}
	}
	return ErrConversationNotFound
}

// AdoptRemoteID records the server id assigned to a local placeholder.
// The transition happens exactly once per conversation; after it, all
// operations may address the server id.
func (s *Store) AdoptRemoteID(localID, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.lookup(localID)
	if conv == nil {
		return ErrConversationNotFound
	}
	if conv.ID != "" {
		return ErrAlreadyPersisted
	}
	conv.ID = serverID
	return nil
}

// SetMessages replaces the conversation's transcript wholesale (used when
// loading history from the server) and marks it loaded.
func (s *Store) SetMessages(conversationID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.lookup(conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Messages = append([]Message(nil), msgs...)
	conv.Loaded = true
	return nil
}

// Snapshot returns the current view: all summaries in table order plus a
// deep copy of the active conversation. An empty store projects an empty
// view, never a crash.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := View{}
	for _, conv := range s.conversations {
		view.Conversations = append(view.Conversations, ConversationSummary{
			ID:        conv.ID,
			LocalID:   conv.LocalID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	if active := s.lookup(s.activeLocal); active != nil {
		c := cloneConversation(active)
		view.Active = &c
	}
	return view
}

// Len returns the number of conversations held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Reset drops all state, e.g. on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.activeLocal = ""
}

// lookup resolves a server or local id to the held conversation. Caller
// must hold the lock.
func (s *Store) lookup(id string) *Conversation {
	if id == "" {
		return nil
	}
	for _, conv := range s.conversations {
		if conv.LocalID == id || (conv.ID != "" && conv.ID == id) {
			return conv
		}
	}
	return nil
}

func (s *Store) lookupEither(serverID, localID string) *Conversation {
	if conv := s.lookup(serverID); conv != nil {
		return conv
	}
	return s.lookup(localID)
}

func cloneConversation(conv *Conversation) Conversation {
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		out.Messages[i] = msg
		if len(msg.Sources) > 0 {
			out.Messages[i].Sources = append([]Source(nil), msg.Sources...)
		}
	}
	return out
}
