package kv

import "context"

// Well-known keys. The credential and the cached conversation snapshot
// live under fixed names, mirroring the browser-persisted storage the
// client replaces.
const (
	KeyAccessToken   = "access_token"
	KeyConversations = "conversations"
)

// Store is a process-wide key-value store with explicit get/set/remove.
// Values are opaque strings; the conversation snapshot is stored as JSON
// and overwritten last-write-wins.
type Store interface {
	// Get retrieves a value by key. The second result is false when the
	// key is not set (not an error).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value, overwriting any previous one.
	Set(ctx context.Context, key, value string) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close closes the store and releases any resources.
	Close() error
}
