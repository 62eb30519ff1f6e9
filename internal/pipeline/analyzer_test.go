package pipeline

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
	"github.com/jonathan/labelscan/internal/pipeline/steps"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peanutLabel = `{"product_name":"Crunchy Bar","ingredients":["Sugar","Peanut oil","Salt"],"nutrients":[{"label":"sugar","value":31,"unit":"g"}]}`

func deterministicStub(labelJSON string) *gatewaytest.Stub {
	return &gatewaytest.Stub{Responses: map[gateway.PromptKind]string{
		gateway.KindNormalizeLabel: labelJSON,
		gateway.KindSummarizeRisk:  `{"explanation":"Peanut oil matches your peanut allergy."}`,
	}}
}

func newTestAnalyzer(gen gateway.Generator) *Analyzer {
	a := NewAnalyzer(gen, nil, nil)
	fixed := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }
	return a
}

func TestAnalyzeScan_AllergyMakesScanHigh(t *testing.T) {
	a := newTestAnalyzer(deterministicStub(peanutLabel))
	profile := types.HealthProfile{Allergies: []string{"peanuts"}}

	scan, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "Sugar, peanut oil, salt"}, profile, nil)

	require.NoError(t, err)
	assert.Equal(t, types.RiskHigh, scan.SummaryRisk)
	assert.Equal(t, "Crunchy Bar", scan.ProductName)
	require.Len(t, scan.IngredientRisks, 3)
	assert.Equal(t, types.RiskHigh, scan.IngredientRisks[1].Level)
	assert.Equal(t, []string{"matches allergy: peanuts"}, scan.IngredientRisks[1].Reasons)
	assert.Equal(t, "Peanut oil matches your peanut allergy.", scan.SummaryExplanation)
	assert.Equal(t, uuid.Nil, scan.ID)
}

func TestAnalyzeScan_OneRiskPerIngredientInOrder(t *testing.T) {
	a := newTestAnalyzer(deterministicStub(peanutLabel))

	scan, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "label"}, types.HealthProfile{}, nil)

	require.NoError(t, err)
	require.Len(t, scan.IngredientRisks, len(scan.Ingredients))
	for i, r := range scan.IngredientRisks {
		assert.Equal(t, scan.Ingredients[i], r.Ingredient)
		assert.Equal(t, types.RiskLow, r.Level)
	}
	assert.Equal(t, types.RiskLow, scan.SummaryRisk)
}

func TestAnalyzeScan_IsIdempotent(t *testing.T) {
	a := newTestAnalyzer(deterministicStub(peanutLabel))
	profile := types.HealthProfile{Allergies: []string{"peanuts"}, ChronicConditions: []string{"diabetes"}}
	in := AnalyzeInput{RawText: "Sugar, peanut oil, salt", LanguageHint: "en"}

	first, err := a.AnalyzeScan(context.Background(), in, profile, nil)
	require.NoError(t, err)
	second, err := a.AnalyzeScan(context.Background(), in, profile, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyzeScan_SummaryFailureDegrades(t *testing.T) {
	stub := &gatewaytest.Stub{
		Responses: map[gateway.PromptKind]string{gateway.KindNormalizeLabel: peanutLabel},
		Errors: map[gateway.PromptKind]error{
			gateway.KindSummarizeRisk: &gateway.UpstreamUnavailableError{Kind: gateway.KindSummarizeRisk, Attempts: 3, Last: errors.New("timeout")},
		},
	}
	a := newTestAnalyzer(stub)

	scan, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "x"}, types.HealthProfile{Allergies: []string{"peanut"}}, nil)

	require.NoError(t, err)
	assert.Equal(t, types.RiskHigh, scan.SummaryRisk)
	assert.Contains(t, scan.SummaryExplanation, "Peanut oil: matches allergy: peanut")
}

func TestAnalyzeScan_NoIngredientsIsMedium(t *testing.T) {
	stub := deterministicStub(`{"product_name":null,"ingredients":[],"nutrients":[]}`)
	a := newTestAnalyzer(stub)

	scan, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "Net wt 100g"}, types.HealthProfile{}, nil)

	require.NoError(t, err)
	assert.Equal(t, types.RiskMedium, scan.SummaryRisk)
	assert.Contains(t, scan.SummaryExplanation, "unable to fully analyze")
	assert.Equal(t, 0, stub.CallCount(gateway.KindSummarizeRisk))
}

func TestAnalyzeScan_ProductNameHintWins(t *testing.T) {
	a := newTestAnalyzer(deterministicStub(peanutLabel))

	scan, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "x", ProductNameHint: "  My Bar "}, types.HealthProfile{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "My Bar", scan.ProductName)
}

func TestAnalyzeScan_EmptyInput(t *testing.T) {
	stub := deterministicStub(peanutLabel)
	a := newTestAnalyzer(stub)

	_, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: " \t\n"}, types.HealthProfile{}, nil)

	var empty *parsing.EmptyInputError
	require.True(t, errors.As(err, &empty))
	assert.Empty(t, stub.Calls())
}

func TestAnalyzeScan_UpstreamUnavailablePropagates(t *testing.T) {
	stub := &gatewaytest.Stub{Errors: map[gateway.PromptKind]error{
		gateway.KindNormalizeLabel: &gateway.UpstreamUnavailableError{Kind: gateway.KindNormalizeLabel, Attempts: 3, Last: errors.New("503")},
	}}
	a := newTestAnalyzer(stub)

	_, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "sugar"}, types.HealthProfile{}, nil)

	var upstream *gateway.UpstreamUnavailableError
	assert.True(t, errors.As(err, &upstream))
}

func TestAnalyzeScan_CancelledBeforeStart(t *testing.T) {
	stub := deterministicStub(peanutLabel)
	a := newTestAnalyzer(stub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.AnalyzeScan(ctx, AnalyzeInput{RawText: "sugar"}, types.HealthProfile{}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stub.Calls())
}

func TestAnalyzeScan_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stub := &gatewaytest.Stub{
		GenerateFunc: func(_ context.Context, kind gateway.PromptKind, _ gateway.Vars) (string, error) {
			if kind == gateway.KindNormalizeLabel {
				cancel()
				return peanutLabel, nil
			}
			return `{"explanation":"unused"}`, nil
		},
	}
	a := newTestAnalyzer(stub)

	_, err := a.AnalyzeScan(ctx, AnalyzeInput{RawText: "sugar"}, types.HealthProfile{}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stub.CallCount(gateway.KindSummarizeRisk))
}

func TestAnalyzeScan_ProgressEvents(t *testing.T) {
	a := newTestAnalyzer(deterministicStub(peanutLabel))
	var mu sync.Mutex
	var events []ProgressEvent

	_, err := a.AnalyzeScan(context.Background(), AnalyzeInput{RawText: "x"}, types.HealthProfile{}, func(e ProgressEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, steps.StageNormalize, events[0].Step)
	assert.Equal(t, steps.CategoryInput, events[0].Category)
	assert.Equal(t, steps.StageAssess, events[1].Step)
	assert.Equal(t, steps.StageSummarize, events[2].Step)
	assert.Equal(t, "Overall risk Low", events[2].Message)
}
