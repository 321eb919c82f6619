// Package messaging posts Messages into a Match's Conversation and turns
// the delivery-confirmed quick action into the lifecycle event that
// completes the match.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/storage"
)

var (
	ErrNotParticipant = errors.New("sender is not a participant of this conversation")
	ErrUnknownKind    = errors.New("unknown message kind")
)

// DeliveryConfirmer is satisfied by the lifecycle coordinator.
type DeliveryConfirmer interface {
	ConfirmDelivery(ctx context.Context, matchID string) (*models.Match, error)
}

type Notifier interface {
	Notify(uid string, payload any) error
}

type Service struct {
	Store     storage.Store
	Confirmer DeliveryConfirmer
	Notify    Notifier // optional
	Logger    *slog.Logger
}

func NewService(store storage.Store, confirmer DeliveryConfirmer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Confirmer: confirmer, Logger: logger}
}

// Post appends a message, rolls the conversation preview forward and, for a
// delivery-confirmed quick action, drives the coordinator. The message is
// durable before the lifecycle transition runs, so a failed confirmation can
// be retried by resending the quick action.
func (s *Service) Post(ctx context.Context, conversationID, senderUID, content string, kind models.MessageKind) (*models.Message, error) {
	switch kind {
	case models.MessageText, models.MessageLocation, models.MessageQuickAction:
	default:
		return nil, ErrUnknownKind
	}

	conv, err := s.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.ParticipantUIDs[0] != senderUID && conv.ParticipantUIDs[1] != senderUID {
		return nil, ErrNotParticipant
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderUID:      senderUID,
		Content:        content,
		Kind:           kind,
	}
	if _, err := s.Store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := s.Store.PatchConversation(ctx, conversationID, storage.ConversationPatch{
		LastMessage:   &msg.Content,
		LastMessageAt: &msg.Timestamp,
	}); err != nil {
		s.Logger.Warn("conversation preview not updated", "conversation_id", conversationID, "error", err)
	}

	if other := otherParticipant(conv, senderUID); other != "" && s.Notify != nil {
		_ = s.Notify.Notify(other, map[string]any{
			"type": "message", "conversation_id": conversationID, "content": content,
		})
	}

	if kind == models.MessageQuickAction && content == models.QuickActionDeliveryConfirmed {
		if err := s.confirmDelivery(ctx, conv); err != nil {
			return msg, fmt.Errorf("delivery confirmation: %w", err)
		}
	}
	return msg, nil
}

func (s *Service) confirmDelivery(ctx context.Context, conv *models.Conversation) error {
	if conv.PackageID == "" {
		return errors.New("conversation is not linked to a package")
	}
	matches, err := s.Store.QueryMatches(ctx, storage.MatchQuery{PackageID: conv.PackageID})
	if err != nil {
		return fmt.Errorf("lookup match: %w", err)
	}
	for _, m := range matches {
		if m.Status.Terminal() {
			continue
		}
		_, err := s.Confirmer.ConfirmDelivery(ctx, m.ID)
		return err
	}
	return errors.New("no open match for this conversation")
}

// List returns the conversation's messages oldest first and marks the
// counterpart's messages read for the reader.
func (s *Service) List(ctx context.Context, conversationID, readerUID string) ([]*models.Message, error) {
	conv, err := s.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.ParticipantUIDs[0] != readerUID && conv.ParticipantUIDs[1] != readerUID {
		return nil, ErrNotParticipant
	}
	if err := s.Store.MarkMessagesRead(ctx, conversationID, readerUID); err != nil {
		s.Logger.Warn("mark read failed", "conversation_id", conversationID, "error", err)
	}
	return s.Store.ListMessages(ctx, conversationID)
}

func otherParticipant(conv *models.Conversation, uid string) string {
	if conv.ParticipantUIDs[0] == uid {
		return conv.ParticipantUIDs[1]
	}
	if conv.ParticipantUIDs[1] == uid {
		return conv.ParticipantUIDs[0]
	}
	return ""
}
