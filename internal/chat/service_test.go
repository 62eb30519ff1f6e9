package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTurns struct {
	mu    sync.Mutex
	turns map[string][]types.ConversationTurn
}

func conversationKey(userID uuid.UUID, scanID *uuid.UUID) string {
	if scanID == nil {
		return userID.String() + "/profile"
	}
	return userID.String() + "/" + scanID.String()
}

func (m *memoryTurns) ListTurns(_ context.Context, userID uuid.UUID, scanID *uuid.UUID) ([]types.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ConversationTurn(nil), m.turns[conversationKey(userID, scanID)]...), nil
}

func (m *memoryTurns) AppendTurns(_ context.Context, userID uuid.UUID, turns []types.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turns == nil {
		m.turns = make(map[string][]types.ConversationTurn)
	}
	for _, t := range turns {
		key := conversationKey(userID, t.ScanID)
		m.turns[key] = append(m.turns[key], t)
	}
	return nil
}

type staticProfiles struct {
	profile types.HealthProfile
	err     error
}

func (s staticProfiles) GetProfile(context.Context, uuid.UUID) (types.HealthProfile, error) {
	return s.profile, s.err
}

func (s staticProfiles) UpsertProfile(context.Context, uuid.UUID, types.HealthProfile) error {
	return nil
}

func TestService_SendAppendsHistory(t *testing.T) {
	userID := uuid.New()
	scan := chocolateScan(userID)
	stub := replyStub("Hazelnuts are tree nuts.")
	turns := &memoryTurns{}
	svc := NewService(NewConversation(stub, newMemoryScans(scan)), turns,
		staticProfiles{profile: types.HealthProfile{Allergies: []string{"tree nuts"}}})

	ctx := context.Background()
	_, err := svc.Send(ctx, userID, &scan.ID, "Are hazelnuts safe?", "")
	require.NoError(t, err)
	second, err := svc.Send(ctx, userID, &scan.ID, "And the sugar?", "")
	require.NoError(t, err)
	assert.Equal(t, types.ConfidenceHigh, second.Confidence)

	history, err := svc.History(ctx, userID, &scan.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "Are hazelnuts safe?", history[0].Text)
	assert.Equal(t, "And the sugar?", history[2].Text)

	calls := stub.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Input["History"], "User: Are hazelnuts safe?")
	assert.Contains(t, calls[1].Input["Grounding"], "User allergies: tree nuts")
	assert.Equal(t, "English", calls[1].Input["LanguageName"])

	profileHistory, err := svc.History(ctx, userID, nil)
	require.NoError(t, err)
	assert.Empty(t, profileHistory)
}

func TestService_SendFailureStoresNothing(t *testing.T) {
	userID := uuid.New()
	turns := &memoryTurns{}
	missing := uuid.New()
	svc := NewService(NewConversation(replyStub("x"), newMemoryScans()), turns, staticProfiles{})

	_, err := svc.Send(context.Background(), userID, &missing, "hello", "en")

	var notFound *ScanNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Empty(t, turns.turns)
}

func TestService_ProfileError(t *testing.T) {
	svc := NewService(NewConversation(replyStub("x"), newMemoryScans()), &memoryTurns{},
		staticProfiles{err: errors.New("db down")})

	_, err := svc.Send(context.Background(), uuid.New(), nil, "hello", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load health profile")
}

func TestService_HistoryUnknownScan(t *testing.T) {
	svc := NewService(NewConversation(replyStub("x"), newMemoryScans()), &memoryTurns{}, staticProfiles{})
	id := uuid.New()

	_, err := svc.History(context.Background(), uuid.New(), &id)

	var notFound *ScanNotFoundError
	assert.True(t, errors.As(err, &notFound))
}
