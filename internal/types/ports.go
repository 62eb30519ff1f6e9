package types

import (
	"context"

	"github.com/google/uuid"
)

// ScanStore is the persistence collaborator for scan results.
// LoadScan returns nil, nil when the scan is absent or owned by another user;
// DeleteScan reports whether a row was removed.
type ScanStore interface {
	SaveScan(ctx context.Context, scan *ScanResult) (uuid.UUID, error)
	LoadScan(ctx context.Context, scanID, userID uuid.UUID) (*ScanResult, error)
	ListScans(ctx context.Context, userID uuid.UUID) ([]ScanListItem, error)
	DeleteScan(ctx context.Context, scanID, userID uuid.UUID) (bool, error)
}

// ProfileStore supplies health profile snapshots. A user without a stored
// profile gets an empty profile, not an error.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (HealthProfile, error)
	UpsertProfile(ctx context.Context, userID uuid.UUID, profile HealthProfile) error
}

// ConversationStore keeps append-only chat history. A nil scanID selects the
// profile-level conversation.
type ConversationStore interface {
	ListTurns(ctx context.Context, userID uuid.UUID, scanID *uuid.UUID) ([]ConversationTurn, error)
	AppendTurns(ctx context.Context, userID uuid.UUID, turns []ConversationTurn) error
}
