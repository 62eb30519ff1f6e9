package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/gateway/gatewaytest"
	"github.com/jonathan/labelscan/internal/parsing"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryScans struct {
	mu    sync.Mutex
	scans map[uuid.UUID]*types.ScanResult
	err   error
}

func newMemoryScans(scans ...*types.ScanResult) *memoryScans {
	m := &memoryScans{scans: make(map[uuid.UUID]*types.ScanResult)}
	for _, s := range scans {
		m.scans[s.ID] = s
	}
	return m
}

func (m *memoryScans) SaveScan(_ context.Context, scan *types.ScanResult) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	m.scans[scan.ID] = scan
	return scan.ID, nil
}

func (m *memoryScans) LoadScan(_ context.Context, scanID, userID uuid.UUID) (*types.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.scans[scanID]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	return s, nil
}

func (m *memoryScans) ListScans(context.Context, uuid.UUID) ([]types.ScanListItem, error) {
	return nil, nil
}

func (m *memoryScans) DeleteScan(_ context.Context, scanID, _ uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.scans[scanID]
	delete(m.scans, scanID)
	return ok, nil
}

func chocolateScan(userID uuid.UUID) *types.ScanResult {
	return &types.ScanResult{
		ID:          uuid.New(),
		UserID:      userID,
		ProductName: "Hazelnut Spread",
		Language:    "en",
		Ingredients: []types.ParsedIngredient{
			{Name: "Sugar", NormalizedName: "sugar"},
			{Name: "Palm oil", NormalizedName: "palm oil"},
			{Name: "Hazelnuts", NormalizedName: "hazelnuts"},
		},
		Nutrients: []types.ParsedNutrient{
			{Label: "sugar_g", Value: 56.3},
			{Label: "fat_saturated_g", Value: 10.6},
		},
		IngredientRisks: []types.IngredientRisk{
			{Ingredient: types.ParsedIngredient{Name: "Sugar"}, Level: types.RiskMedium, Reasons: []string{"risk for diabetes: sugar"}},
		},
		SummaryExplanation: "High sugar content.",
		SummaryRisk:        types.RiskMedium,
	}
}

func replyStub(reply string) *gatewaytest.Stub {
	return &gatewaytest.Stub{Responses: map[gateway.PromptKind]string{
		gateway.KindAnswerChat: `{"reply":"` + reply + `"}`,
	}}
}

func TestReply_UnrelatedQuestionIsLowConfidence(t *testing.T) {
	userID := uuid.New()
	scan := chocolateScan(userID)
	stub := replyStub("Soya lecithin is an emulsifier.")
	conv := NewConversation(stub, newMemoryScans(scan))

	reply, err := conv.Reply(context.Background(), ChatRequest{
		Message: "What is soya lecithin?",
		ScanID:  &scan.ID,
		UserID:  userID,
	})

	require.NoError(t, err)
	assert.Equal(t, types.ConfidenceLow, reply.Confidence)
	assert.Equal(t, "Soya lecithin is an emulsifier.", reply.Reply)
}

func TestReply_IngredientQuestionIsHighConfidence(t *testing.T) {
	userID := uuid.New()
	scan := chocolateScan(userID)
	conv := NewConversation(replyStub("Yes."), newMemoryScans(scan))

	for _, msg := range []string{"Is the palm oil bad for me?", "how much SUGAR is in this", "Are hazelnut allergies a concern?", "Too much saturated fat?"} {
		t.Run(msg, func(t *testing.T) {
			reply, err := conv.Reply(context.Background(), ChatRequest{Message: msg, ScanID: &scan.ID, UserID: userID})
			require.NoError(t, err)
			assert.Equal(t, types.ConfidenceHigh, reply.Confidence)
		})
	}
}

func TestReply_ScanNotFound(t *testing.T) {
	userID := uuid.New()
	scan := chocolateScan(userID)
	stub := replyStub("unused")
	conv := NewConversation(stub, newMemoryScans(scan))

	tests := []struct {
		name   string
		scanID uuid.UUID
		userID uuid.UUID
	}{
		{name: "unknown scan", scanID: uuid.New(), userID: userID},
		{name: "other user's scan", scanID: scan.ID, userID: uuid.New()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.scanID
			_, err := conv.Reply(context.Background(), ChatRequest{Message: "hi", ScanID: &id, UserID: tt.userID})

			var notFound *ScanNotFoundError
			require.True(t, errors.As(err, &notFound))
			assert.Equal(t, tt.scanID, notFound.ScanID)
		})
	}
	assert.Equal(t, 0, stub.CallCount(gateway.KindAnswerChat))
}

func TestReply_EmptyMessage(t *testing.T) {
	stub := replyStub("unused")
	conv := NewConversation(stub, newMemoryScans())

	_, err := conv.Reply(context.Background(), ChatRequest{Message: "   \n"})

	var empty *parsing.EmptyInputError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, "message", empty.Field)
	assert.Empty(t, stub.Calls())
}

func TestReply_WithoutScanUsesProfile(t *testing.T) {
	stub := replyStub("Avoid peanuts.")
	conv := NewConversation(stub, newMemoryScans())

	reply, err := conv.Reply(context.Background(), ChatRequest{
		Message: "What snacks are safe?",
		Profile: types.HealthProfile{Allergies: []string{"peanuts"}},
	})

	require.NoError(t, err)
	assert.Equal(t, types.ConfidenceLow, reply.Confidence)
	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Input["Grounding"], "User allergies: peanuts")
	assert.Contains(t, calls[0].Input["Grounding"], "No product is selected")
	assert.Equal(t, "chat_reply", calls[0].Constraints.Shape)
	assert.Equal(t, DefaultMaxOutputTokens, calls[0].Constraints.MaxOutputTokens)
}

func TestReply_AppendsTurnsWithoutMutatingPrior(t *testing.T) {
	userID := uuid.New()
	scan := chocolateScan(userID)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := NewConversation(replyStub("It contains hazelnuts."), newMemoryScans(scan))
	conv.now = func() time.Time { return fixed }

	prior := []types.ConversationTurn{
		{Role: types.RoleUser, Text: "first"},
		{Role: types.RoleAssistant, Text: "first answer"},
	}
	snapshot := append([]types.ConversationTurn(nil), prior...)

	reply, err := conv.Reply(context.Background(), ChatRequest{
		Message:    "Any nuts?",
		ScanID:     &scan.ID,
		UserID:     userID,
		PriorTurns: prior,
	})

	require.NoError(t, err)
	assert.Equal(t, snapshot, prior)
	require.Len(t, reply.Turns, 4)
	assert.Equal(t, prior, reply.Turns[:2])

	added := reply.NewTurns()
	require.Len(t, added, 2)
	assert.Equal(t, types.RoleUser, added[0].Role)
	assert.Equal(t, "Any nuts?", added[0].Text)
	assert.Equal(t, types.RoleAssistant, added[1].Role)
	assert.Equal(t, "It contains hazelnuts.", added[1].Text)
	assert.Equal(t, fixed, added[1].CreatedAt)
	assert.Equal(t, &scan.ID, added[0].ScanID)
	assert.NotEqual(t, added[0].ID, added[1].ID)
}

func TestReply_HistoryWindowDropsOldestTurns(t *testing.T) {
	stub := replyStub("ok")
	conv := NewConversation(stub, newMemoryScans(), WithHistoryWindow(2))

	prior := []types.ConversationTurn{
		{Role: types.RoleUser, Text: "oldest"},
		{Role: types.RoleAssistant, Text: "middle"},
		{Role: types.RoleUser, Text: "newest"},
	}
	_, err := conv.Reply(context.Background(), ChatRequest{Message: "next", PriorTurns: prior})
	require.NoError(t, err)

	history := stub.Calls()[0].Input["History"]
	assert.Equal(t, "Assistant: middle\nUser: newest", history)
}

func TestReply_GatewayErrorsPropagate(t *testing.T) {
	upstream := &gateway.UpstreamUnavailableError{Kind: gateway.KindAnswerChat, Attempts: 3, Last: errors.New("503")}

	tests := []struct {
		name  string
		stub  *gatewaytest.Stub
		check func(t *testing.T, err error)
	}{
		{
			name: "upstream unavailable",
			stub: &gatewaytest.Stub{Errors: map[gateway.PromptKind]error{gateway.KindAnswerChat: upstream}},
			check: func(t *testing.T, err error) {
				var target *gateway.UpstreamUnavailableError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name: "malformed reply",
			stub: replyStub(""),
			check: func(t *testing.T, err error) {
				var target *gateway.MalformedResponseError
				assert.True(t, errors.As(err, &target))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewConversation(tt.stub, newMemoryScans())
			_, err := conv.Reply(context.Background(), ChatRequest{Message: "hello"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestReply_StoreErrorIsNotScanNotFound(t *testing.T) {
	store := newMemoryScans()
	store.err = errors.New("connection refused")
	conv := NewConversation(replyStub("ok"), store)
	id := uuid.New()

	_, err := conv.Reply(context.Background(), ChatRequest{Message: "hi", ScanID: &id})

	require.Error(t, err)
	var notFound *ScanNotFoundError
	assert.False(t, errors.As(err, &notFound))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBuildGrounding(t *testing.T) {
	userID := uuid.New()
	scan := chocolateScan(userID)
	profile := types.HealthProfile{ChronicConditions: []string{"diabetes"}}

	got := BuildGrounding(scan, profile)

	assert.Contains(t, got, "Product name: Hazelnut Spread")
	assert.Contains(t, got, "Ingredients: Sugar, Palm oil, Hazelnuts")
	assert.Contains(t, got, "- Sugar: Medium (risk for diabetes: sugar)")
	assert.Contains(t, got, "sugar_g 56.3")
	assert.Contains(t, got, "Summary analysis (Medium risk): High sugar content.")
	assert.Contains(t, got, "User allergies: None")
	assert.Contains(t, got, "Chronic conditions: diabetes")
}

func TestFormatHistory_Empty(t *testing.T) {
	assert.Equal(t, "(no previous messages)", FormatHistory(nil))
}

func TestConfidenceFor_NormalizedNutrients(t *testing.T) {
	stub := &gatewaytest.Stub{Responses: map[gateway.PromptKind]string{
		gateway.KindNormalizeLabel: `{"ingredients": ["Oats"], "nutrients": [` +
			`{"label": "Fat", "value": 7, "unit": "g"}, ` +
			`{"label": "Energy", "value": 1570, "unit": "kJ"}, ` +
			`{"label": "Doymuş yağ", "value": 1.2, "unit": "g"}]}`,
	}}
	label, err := parsing.NewNormalizer(stub, nil).Normalize(context.Background(), types.RawLabelText{Text: "Ingredients: oats"})
	require.NoError(t, err)
	scan := &types.ScanResult{Ingredients: label.Ingredients, Nutrients: label.Nutrients}

	tests := []struct {
		message string
		want    types.Confidence
	}{
		{"How much fat is in this?", types.ConfidenceHigh},
		{"How many calories?", types.ConfidenceHigh},
		{"Is the energy value high?", types.ConfidenceHigh},
		{"Is the saturated fat a problem?", types.ConfidenceHigh},
		{"Bunda ne kadar yağ var?", types.ConfidenceHigh},
		{"Is the total sugar high?", types.ConfidenceLow},
		{"What is soya lecithin?", types.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfidenceFor(tt.message, scan))
		})
	}
}

func TestConfidenceFor_IngredientCompound(t *testing.T) {
	scan := &types.ScanResult{Ingredients: []types.ParsedIngredient{{Name: "Soya", NormalizedName: "soya"}}}

	assert.Equal(t, types.ConfidenceHigh, ConfidenceFor("What is soya lecithin?", scan))
	assert.Equal(t, types.ConfidenceLow, ConfidenceFor("What is sunflower lecithin?", scan))
}
