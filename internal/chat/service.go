package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/types"
)

// Service wires a Conversation to the profile and history stores.
type Service struct {
	conv     *Conversation
	turns    types.ConversationStore
	profiles types.ProfileStore
}

// NewService creates a chat Service.
func NewService(conv *Conversation, turns types.ConversationStore, profiles types.ProfileStore) *Service {
	return &Service{conv: conv, turns: turns, profiles: profiles}
}

// Send answers a message and appends the user and assistant turns to the
// stored history. A nil scanID addresses the profile-level conversation.
func (s *Service) Send(ctx context.Context, userID uuid.UUID, scanID *uuid.UUID, message, language string) (*ChatReply, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load health profile: %w", err)
	}
	prior, err := s.turns.ListTurns(ctx, userID, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	reply, err := s.conv.Reply(ctx, ChatRequest{
		Message:    message,
		ScanID:     scanID,
		UserID:     userID,
		Profile:    profile,
		PriorTurns: prior,
		Language:   language,
	})
	if err != nil {
		return nil, err
	}

	if err := s.turns.AppendTurns(ctx, userID, reply.NewTurns()); err != nil {
		return nil, fmt.Errorf("failed to save chat turns: %w", err)
	}
	return reply, nil
}

// History returns the stored turns of a conversation, oldest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, scanID *uuid.UUID) ([]types.ConversationTurn, error) {
	if scanID != nil {
		if _, err := s.conv.loadScan(ctx, *scanID, userID); err != nil {
			return nil, err
		}
	}
	turns, err := s.turns.ListTurns(ctx, userID, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	return turns, nil
}
