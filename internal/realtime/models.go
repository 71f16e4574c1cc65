// internal/realtime/models.go

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionState tracks the lifecycle of the single transport session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned for publishes while the session is down.
	// Outgoing sends are never queued.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAuthRejected means the server refused the credential during the
	// handshake. Fatal for the session: the caller must log out, not retry.
	ErrAuthRejected = errors.New("realtime: authentication rejected")

	// ErrClosed is returned once the connection has been torn down.
	ErrClosed = errors.New("realtime: connection closed")
)

// Frame is the wire envelope. Every inbound and outbound message is one frame.
type Frame struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Frame types
const (
	FrameAuth        = "auth"
	FrameAuthOK      = "auth_ok"
	FrameAuthError   = "auth_error"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FrameEvent       = "event"
)

// AuthPayload is the handshake body sent as the first frame after dial.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthErrorPayload carries the server's rejection reason.
type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

// Topic constructors. Topics are opaque strings on the wire; these keep the
// three families in one place.

func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

func UserStatusTopic(userID string) string {
	return "user-status:" + userID
}

func NotificationsTopic(userID string) string {
	return "notifications:" + userID
}

// SplitTopic returns the topic family and key, e.g. ("conversation", "42").
func SplitTopic(topic string) (family, key string, err error) {
	i := strings.IndexByte(topic, ':')
	if i <= 0 || i == len(topic)-1 {
		return "", "", fmt.Errorf("realtime: malformed topic %q", topic)
	}
	return topic[:i], topic[i+1:], nil
}
