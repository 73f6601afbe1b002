// Package conversation holds client-side chat state: conversations, their
// messages and session ids, and the transitions a streamed reply drives
// through them. Nothing here depends on a transport or a UI.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepgram/chatrelay/internal/chunk"
	"github.com/deepgram/chatrelay/internal/domain/chat/models"
)

const (
	DefaultConversationID = "default"
	DefaultTitle          = "New Conversation"

	// ApologyMessage replaces an assistant message whose turn failed
	ApologyMessage = "Sorry, I encountered an error. Please try again."
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming"`
	IsComplete  bool      `json:"isComplete"`
	Reaction    Reaction  `json:"reaction,omitempty"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	SessionID    string    `json:"session_id,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// Turn is what StartTurn hands back: the request to send and the id of the
// assistant message its reply should be folded into.
type Turn struct {
	ConversationID     string
	AssistantMessageID string
	Request            models.QueryRequest
}

// Store owns every conversation of one client. Conversations are kept newest
// first. All methods are safe for concurrent use, though a single turn is
// expected to have a single writer.
type Store struct {
	mu            sync.RWMutex
	conversations []*Conversation
	now           func() time.Time
	newID         func() string
}

// NewStore returns a store holding one empty conversation with id
// DefaultConversationID
func NewStore() *Store {
	s := &Store{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	s.conversations = []*Conversation{{
		ID:           DefaultConversationID,
		Title:        DefaultTitle,
		Messages:     []Message{},
		LastActivity: s.now(),
	}}
	return s
}

// Create adds an empty conversation in front of the others
func (s *Store) Create() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Conversation{
		ID:           s.newID(),
		Title:        DefaultTitle,
		Messages:     []Message{},
		LastActivity: s.now(),
	}
	s.conversations = append([]*Conversation{c}, s.conversations...)
	return c.clone()
}

// Get returns a copy of one conversation
func (s *Store) Get(convID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.find(convID)
	if err != nil {
		return Conversation{}, err
	}
	return c.clone(), nil
}

// List returns copies of all conversations, newest first
func (s *Store) List() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.clone())
	}
	return out
}

// SessionID returns the session id captured for a conversation, if any
func (s *Store) SessionID(convID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.find(convID)
	if err != nil {
		return "", err
	}
	return c.SessionID, nil
}

// Resume sets the session id a conversation continues from, as if it had
// been captured from an earlier reply
func (s *Store) Resume(convID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.find(convID)
	if err != nil {
		return err
	}
	c.SessionID = sessionID
	return nil
}

// StartTurn records the user's question and an empty, streaming assistant
// message, and builds the request for the relay. The conversation's session
// id is echoed when one has been captured.
func (s *Store) StartTurn(convID, question, collection string) (Turn, error) {
	if strings.TrimSpace(question) == "" {
		return Turn{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.find(convID)
	if err != nil {
		return Turn{}, err
	}

	now := s.now()
	user := Message{
		ID:         s.newID(),
		Role:       RoleUser,
		Content:    question,
		Timestamp:  now,
		IsComplete: true,
	}
	assistant := Message{
		ID:          s.newID(),
		Role:        RoleAssistant,
		Timestamp:   now,
		IsStreaming: true,
	}

	c.Messages = append(c.Messages, user, assistant)
	c.LastActivity = now

	return Turn{
		ConversationID:     c.ID,
		AssistantMessageID: assistant.ID,
		Request: models.QueryRequest{
			Question:       question,
			CollectionName: collection,
			SessionID:      c.SessionID,
		},
	}, nil
}

// Apply folds one chunk into an assistant message with Reduce
func (s *Store) Apply(convID, msgID string, ch chunk.Chunk) (Message, error) {
	return s.update(convID, msgID, func(c *Conversation, m *Message) {
		*m, c.SessionID = Reduce(*m, c.SessionID, ch)
	})
}

// Finish marks a message complete once its stream has ended cleanly. It is a
// no-op for a message that is already complete.
func (s *Store) Finish(convID, msgID string) (Message, error) {
	return s.update(convID, msgID, func(_ *Conversation, m *Message) {
		m.IsStreaming = false
		m.IsComplete = true
	})
}

// Fail replaces a message with ApologyMessage and completes it
func (s *Store) Fail(convID, msgID string) (Message, error) {
	return s.update(convID, msgID, func(_ *Conversation, m *Message) {
		m.Content = ApologyMessage
		m.IsStreaming = false
		m.IsComplete = true
	})
}

// React sets the single reaction on a message
func (s *Store) React(convID, msgID string, r Reaction) (Message, error) {
	if r != ReactionLike && r != ReactionDislike {
		return Message{}, ErrInvalidReaction
	}
	return s.update(convID, msgID, func(_ *Conversation, m *Message) {
		m.Reaction = r
	})
}

// DeleteMessage removes one message from a conversation
func (s *Store) DeleteMessage(convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.find(convID)
	if err != nil {
		return err
	}

	for i := range c.Messages {
		if c.Messages[i].ID == msgID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
}

// Clear drops every message of a conversation. The session id is kept.
func (s *Store) Clear(convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.find(convID)
	if err != nil {
		return err
	}
	c.Messages = []Message{}
	return nil
}

type exportedMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type exportDocument struct {
	Title      string            `json:"title"`
	Messages   []exportedMessage `json:"messages"`
	ExportedAt time.Time         `json:"exportedAt"`
}

// Export renders a conversation as an indented JSON document
func (s *Store) Export(convID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.find(convID)
	if err != nil {
		return nil, err
	}

	doc := exportDocument{
		Title:      c.Title,
		Messages:   make([]exportedMessage, 0, len(c.Messages)),
		ExportedAt: s.now(),
	}
	for _, m := range c.Messages {
		doc.Messages = append(doc.Messages, exportedMessage{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}

	return json.MarshalIndent(doc, "", "  ")
}

func (s *Store) update(convID, msgID string, fn func(*Conversation, *Message)) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.find(convID)
	if err != nil {
		return Message{}, err
	}

	for i := range c.Messages {
		if c.Messages[i].ID == msgID {
			fn(c, &c.Messages[i])
			return c.Messages[i], nil
		}
	}
	return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
}

func (s *Store) find(convID string) (*Conversation, error) {
	for _, c := range s.conversations {
		if c.ID == convID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
}
