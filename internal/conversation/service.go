// ABOUTME: Message delivery service: resolves or creates the conversation, then persists the message
// ABOUTME: Tolerates client placeholder conversation IDs and closes the duplicate-conversation race

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// Delivery errors. Callers map these to transport status codes.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrMissingReceiver      = errors.New("receiver is required")
	ErrInvalidReceiver      = errors.New("cannot send a message to yourself")
	ErrReceiverNotFound     = errors.New("receiver not found")
	ErrEmptyContent         = errors.New("content is required")
	ErrPersistence          = errors.New("persistence failure")
)

// Store defines what the service needs from storage
type Store interface {
	store.ConversationStore
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Service is the central conversation layer. Every message is persisted here
// before anything is pushed to a live channel.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new conversation Service
func New(s Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "conversation"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DeliverRequest is a single "send message" intent.
type DeliverRequest struct {
	SenderID string

	// ConversationRef may be empty, a durable ID, or a client placeholder
	// such as "temp-1699999999". Placeholders are treated as absent.
	ConversationRef string

	// ReceiverID is required when ConversationRef does not resolve.
	ReceiverID string

	Content string
}

// DeliverResult is the persisted message plus the durable conversation it landed in.
type DeliverResult struct {
	Message        *store.Message
	ConversationID string
	// RecipientID is the other participant, for live push.
	RecipientID string
	// Created is true when this delivery created the conversation.
	Created bool
}

// Deliver resolves the target conversation, persists the message and bumps
// the conversation's last message. Store failures are wrapped in ErrPersistence.
func (s *Service) Deliver(ctx context.Context, req *DeliverRequest) (*DeliverResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	conv, created, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        content,
		Type:           store.MessageTypeText,
		ReadBy:         []string{req.SenderID},
		DeletedFor:     []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: saving message: %w", ErrPersistence, err)
	}
	if err := s.store.SetLastMessage(ctx, conv.ID, msg.ID, now); err != nil {
		return nil, fmt.Errorf("%w: updating conversation: %w", ErrPersistence, err)
	}

	s.logger.Debug("message delivered",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender_id", req.SenderID,
		"created_conversation", created)

	return &DeliverResult{
		Message:        msg,
		ConversationID: conv.ID,
		RecipientID:    otherParticipant(conv, req.SenderID),
		Created:        created,
	}, nil
}

// resolve finds the conversation addressed by req, creating it if needed.
func (s *Service) resolve(ctx context.Context, req *DeliverRequest) (*store.Conversation, bool, error) {
	if isDurableID(req.ConversationRef) {
		conv, err := s.store.GetConversation(ctx, req.ConversationRef)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, ErrConversationNotFound
			}
			return nil, false, fmt.Errorf("%w: loading conversation: %w", ErrPersistence, err)
		}
		if !conv.HasParticipant(req.SenderID) {
			return nil, false, ErrNotParticipant
		}
		return conv, false, nil
	}

	receiverID := strings.TrimSpace(req.ReceiverID)
	if receiverID == "" {
		return nil, false, ErrMissingReceiver
	}
	if receiverID == req.SenderID {
		return nil, false, ErrInvalidReceiver
	}
	if !isDurableID(receiverID) {
		return nil, false, ErrReceiverNotFound
	}

	receiver, err := s.store.GetUser(ctx, receiverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrReceiverNotFound
		}
		return nil, false, fmt.Errorf("%w: loading receiver: %w", ErrPersistence, err)
	}
	if receiver.IsDeleted() {
		return nil, false, ErrReceiverNotFound
	}

	return s.ensureDirect(ctx, req.SenderID, receiverID)
}

// ensureDirect returns the one-to-one conversation between a and b, creating it if missing.
func (s *Service) ensureDirect(ctx context.Context, a, b string) (*store.Conversation, bool, error) {
	conv, err := s.store.FindDirectConversation(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: finding conversation: %w", ErrPersistence, err)
	}

	now := s.now()
	conv = &store.Conversation{
		ID:           uuid.NewString(),
		Participants: []string{a, b},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		// Another delivery for the same pair won the unique pair key.
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, lookupErr := s.store.FindDirectConversation(ctx, a, b)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
				return existing, false, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, false, fmt.Errorf("%w: creating conversation: %w", ErrPersistence, err)
	}

	s.logger.Info("conversation created", "conversation_id", conv.ID, "participants", conv.Participants)
	return conv, true, nil
}

// isDurableID reports whether ref looks like an ID this service issued.
func isDurableID(ref string) bool {
	if ref == "" {
		return false
	}
	_, err := uuid.Parse(ref)
	return err == nil
}

func otherParticipant(conv *store.Conversation, userID string) string {
	for _, p := range conv.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}
