// ABOUTME: Read-side conversation operations: listing, history, read receipts and per-user hide
// ABOUTME: Every operation checks that the caller participates in the conversation

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// ConversationView is a conversation as shown to one of its participants.
type ConversationView struct {
	ID           string              `json:"id"`
	Participants []*store.PublicUser `json:"participants"`
	IsGroup      bool                `json:"isGroup"`
	GroupName    string              `json:"groupName,omitempty"`
	LastMessage  *store.Message      `json:"lastMessage,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", ErrPersistence, err)
	}

	users := make(map[string]*store.PublicUser)
	views := make([]*ConversationView, 0, len(convs))
	for _, conv := range convs {
		view := &ConversationView{
			ID:           conv.ID,
			Participants: make([]*store.PublicUser, 0, len(conv.Participants)),
			IsGroup:      conv.IsGroup,
			GroupName:    conv.GroupName,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		}

		for _, id := range conv.Participants {
			pu, ok := users[id]
			if !ok {
				u, err := s.store.GetUser(ctx, id)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						continue
					}
					return nil, fmt.Errorf("%w: loading participant: %w", ErrPersistence, err)
				}
				pu = u.Public()
				users[id] = pu
			}
			view.Participants = append(view.Participants, pu)
		}

		if conv.LastMessageID != nil {
			msg, err := s.store.GetMessage(ctx, *conv.LastMessageID)
			switch {
			case err == nil:
				if !msg.HiddenFor(userID) {
					view.LastMessage = msg
				}
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("%w: loading last message: %w", ErrPersistence, err)
			}
		}

		views = append(views, view)
	}
	return views, nil
}

// GetMessages returns the conversation's messages in creation order, minus
// those the caller has hidden.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID string) ([]*store.Message, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading messages: %w", ErrPersistence, err)
	}

	visible := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.HiddenFor(userID) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// MarkRead adds the user to ReadBy on every message of the conversation.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) error {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.store.MarkRead(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("%w: marking read: %w", ErrPersistence, err)
	}
	return nil
}

// HideMessage hides a message for the caller only. Other participants still see it.
func (s *Service) HideMessage(ctx context.Context, userID, messageID string) error {
	if !isDurableID(messageID) {
		return ErrMessageNotFound
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("%w: loading message: %w", ErrPersistence, err)
	}
	if _, err := s.participantConversation(ctx, userID, msg.ConversationID); err != nil {
		return err
	}
	if err := s.store.HideMessage(ctx, messageID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("%w: hiding message: %w", ErrPersistence, err)
	}
	return nil
}

func (s *Service) participantConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	if !isDurableID(conversationID) {
		return nil, ErrConversationNotFound
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("%w: loading conversation: %w", ErrPersistence, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}
