package api

import (
	"context"

	"github.com/creastat/chatclient/session"
)

// Service provides typed access to the remote conversation/message
// service. Implementations own no conversation state; every call is a
// plain request/response and is safe for the caller to retry at its own
// discretion (the service itself never retries).
type Service interface {
	// ListConversations returns the caller's conversations, newest first.
	ListConversations(ctx context.Context, credential string) ([]session.ConversationSummary, error)

	// CreateConversation creates a conversation with the given title. A
	// successful result always carries a non-empty conversation id.
	CreateConversation(ctx context.Context, credential, title string) (session.ConversationSummary, error)

	// GetMessages returns the full ordered transcript of a conversation.
	GetMessages(ctx context.Context, credential, conversationID string) ([]session.Message, error)

	// SendMessage submits a user query and waits, bounded by the
	// configured timeout, for the generated answer.
	SendMessage(ctx context.Context, credential, conversationID, query string, opts SendOptions) (SendResult, error)

	// DeleteConversation removes a conversation and all its messages.
	DeleteConversation(ctx context.Context, credential, conversationID string) error
}

// SendOptions tunes answer generation for a single send.
type SendOptions struct {
	// TopK is the number of retrieval results the backend feeds into
	// answer generation.
	TopK int

	// IncludeSources asks the backend to attach citation records to the
	// answer.
	IncludeSources bool
}

// DefaultSendOptions returns the options used for ordinary chat sends.
func DefaultSendOptions() SendOptions {
	return SendOptions{TopK: 3, IncludeSources: true}
}

// SendResult is the server-confirmed outcome of a send.
type SendResult struct {
	Answer         string
	Sources        []session.Source
	MessageID      string
	ConversationID string
}
