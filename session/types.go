package session

import (
	"time"

	chatclient "github.com/creastat/chatclient"
)

// Author identifies who wrote a message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// DefaultTitle is the title given to a conversation before the server
// generates one from its first message.
const DefaultTitle = "새 대화"

// Source is a citation record attached to an assistant answer.
type Source struct {
	CourseName string `json:"course_name"`
	Professor  string `json:"professor"`
	Section    string `json:"section"`
}

// Message is a single conversation turn. Identity is by ID; the ID is
// assigned locally at creation time and replaced by the server-assigned id
// once persistence is confirmed, preserving position in the transcript.
type Message struct {
	ID        string   `json:"id"`
	Author    Author   `json:"author"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"` // ms epoch
	Sources   []Source `json:"sources,omitempty"`

	// Pending marks a locally inserted assistant placeholder displayed
	// while the answer is being generated. Pending messages are always
	// authored by the assistant.
	Pending bool `json:"pending,omitempty"`
}

// Conversation is a titled, ordered log of messages. ID is the server id
// and stays empty until the conversation is persisted, which happens
// atomically with its first sent message; LocalID is the stable
// in-process handle and never changes.
type Conversation struct {
	LocalID   string    `json:"local_id"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"created_at"` // ms epoch
	UpdatedAt int64     `json:"updated_at"` // ms epoch

	// Loaded reports whether the message history has been fetched from
	// the server in this process. Unpersisted conversations are born
	// loaded.
	Loaded bool `json:"loaded"`
}

// Persisted reports whether the conversation exists on the server.
func (c *Conversation) Persisted() bool {
	return c.ID != ""
}

// ConversationSummary is the sidebar-level projection of a conversation.
type ConversationSummary struct {
	ID        string `json:"id"`
	LocalID   string `json:"local_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewUserMessage creates an optimistic user message with a local id.
func NewUserMessage(text string) Message {
	return Message{
		ID:        chatclient.NewMessageID(),
		Author:    AuthorUser,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewAssistantMessage creates a confirmed assistant message. The id should
// be the server-assigned message id when one is available.
func NewAssistantMessage(id, text string, sources []Source) Message {
	if id == "" {
		id = chatclient.NewMessageID()
	}
	return Message{
		ID:        id,
		Author:    AuthorAssistant,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Sources:   sources,
	}
}

// NewPendingMessage creates the assistant placeholder shown while a send
// is awaiting its answer.
func NewPendingMessage(text string) Message {
	return Message{
		ID:        chatclient.NewMessageID(),
		Author:    AuthorAssistant,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Pending:   true,
	}
}

// NewLocalConversation creates an unpersisted placeholder conversation.
// No server call is made; the server-side conversation is created lazily
// on the first send.
func NewLocalConversation(title string) Conversation {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UnixMilli()
	return Conversation{
		LocalID:   chatclient.NewLocalConversationID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Loaded:    true,
	}
}
