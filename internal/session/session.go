package session

import (
	"errors"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultTitle is the placeholder title of a session that has not been named yet
const DefaultTitle = "New chat"

// titleLimit is the number of characters kept when a session is auto-named
const titleLimit = 16

// ErrSessionNotFound is returned when an operation targets an unknown session
var ErrSessionNotFound = errors.New("session not found")

// Message represents a single chat message
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Session represents a chat session. Values handed out by the Store are
// snapshots and must not be modified by callers.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Model is an entry of the model catalog
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// clone copies the session with its own message slice
func (s *Session) clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(c.Messages, s.Messages)
	return &c
}

// MessagePatch describes a field-level update of a message. Text, when set,
// replaces the text; AppendText is concatenated afterwards.
type MessagePatch struct {
	Text       *string
	AppendText string
}

// ReplaceText builds a patch that replaces the message text
func ReplaceText(text string) MessagePatch {
	return MessagePatch{Text: &text}
}

// AppendText builds a patch that appends a fragment to the message text
func AppendText(fragment string) MessagePatch {
	return MessagePatch{AppendText: fragment}
}

func (p MessagePatch) apply(m *Message) {
	if p.Text != nil {
		m.Text = *p.Text
	}
	m.Text += p.AppendText
}
