// internal/messaging/service.go

package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/vireo-social/realtime/internal/realtime"
)

// Publisher is the slice of the connection the send path needs.
type Publisher interface {
	Publish(topic string, data interface{}) error
}

// Service is the outbound message path.
type Service interface {
	// SendMessage validates and publishes a message. Fire-and-forget: the
	// caller does not wait for the broadcast echo; the echo is folded in by
	// the reconciler's idempotent merge. Returns realtime.ErrNotConnected
	// while the session is down.
	SendMessage(ctx context.Context, req *SendMessageRequest) error
}

type service struct {
	pub      Publisher
	userID   string
	validate *validator.Validate
	log      *logrus.Entry
}

func NewService(pub Publisher, userID string, log *logrus.Entry) Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &service{
		pub:      pub,
		userID:   userID,
		validate: validator.New(),
		log:      log.WithField("component", "messaging"),
	}
}

type outboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *service) SendMessage(ctx context.Context, req *SendMessageRequest) error {
	if req.SenderID == "" {
		req.SenderID = s.userID
	}
	if req.MessageType == "" {
		req.MessageType = TypeText
	}

	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("messaging: invalid send request: %w", err)
	}

	err := s.pub.Publish(realtime.ConversationTopic(req.ConversationID), outboundMessage{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	s.log.WithField("conversation_id", req.ConversationID).Debug("message published")
	return nil
}
