// internal/cache/store.go

package cache

import (
	"context"
	"fmt"
)

// Store is a generic keyed read cache. The reconcilers are its only writers;
// UI features read from it. Values are stored as JSON so that in-memory and
// Redis-backed implementations behave identically.
type Store interface {
	// Get decodes the value at key into dest. The boolean reports whether
	// the key was present.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key string, value interface{}) error

	// Invalidate removes key. Removing an absent key is not an error.
	Invalidate(ctx context.Context, key string) error
}

// Cache key layout. One list per conversation, one list and one aggregate
// per user.

func MessagesKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func ConversationsKey(userID string) string {
	return fmt.Sprintf("user:%s:conversations", userID)
}

func NotificationsKey(userID string) string {
	return fmt.Sprintf("user:%s:notifications", userID)
}

func UnreadCountKey(userID string) string {
	return fmt.Sprintf("user:%s:notifications:unread", userID)
}
