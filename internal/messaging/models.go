// internal/messaging/models.go

package messaging

import (
	"time"
)

// MessageRecord is one chat message as pushed by the server. Owned by the
// reconciler once merged; immutable afterwards except for IsRead flips.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
}

// ConversationSummary is the per-conversation line in the inbox list. It is
// derived server-side: unread counts need server confirmation, so summaries
// are invalidated on inbound messages, never merged locally.
type ConversationSummary struct {
	ID             string         `json:"id"`
	ParticipantIDs []string       `json:"participant_ids"`
	LastMessage    *MessageRecord `json:"last_message,omitempty"`
	UnreadCount    int            `json:"unread_count"`
}

// Message types
const (
	TypeText  = "text"
	TypeImage = "image"
)

// SendMessageRequest is the outbound publish DTO.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	SenderID       string `json:"sender_id" validate:"required"`
	Content        string `json:"content" validate:"required,max=4000"`
	MessageType    string `json:"message_type" validate:"required,oneof=text image"`
}
