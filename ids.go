package chatclient

import "github.com/google/uuid"

// NewMessageID returns a process-unique identifier for a locally created
// message. The server replaces it with its own id once the message is
// persisted; it is never asserted unique across processes.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// NewLocalConversationID returns a process-unique handle for a conversation
// that has not been created on the server yet.
func NewLocalConversationID() string {
	return "conv_" + uuid.NewString()
}
