// Package types provides type definitions for structured data used throughout the labelscan system.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is an ordered severity attached to an ingredient or a whole scan.
// The zero value is RiskLow.
type RiskLevel int

// Risk levels, ordered Low < Medium < High.
const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
}

// ParseRiskLevel parses "Low", "Medium" or "High" (case-insensitive).
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalJSON encodes the level as its display name.
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level from its display name.
func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MaxRisk returns the higher of two levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b > a {
		return b
	}
	return a
}

// HealthProfile is a read-only snapshot of the user's health facts.
// Each slice has set semantics; use Normalized to deduplicate.
type HealthProfile struct {
	Allergies          []string `json:"allergies"`
	ChronicConditions  []string `json:"chronic_conditions"`
	DietaryPreferences []string `json:"dietary_preferences"`
}

// Normalized returns a copy with trimmed, case-insensitively deduplicated entries.
// The receiver is not modified.
func (p HealthProfile) Normalized() HealthProfile {
	return HealthProfile{
		Allergies:          dedupeFold(p.Allergies),
		ChronicConditions:  dedupeFold(p.ChronicConditions),
		DietaryPreferences: dedupeFold(p.DietaryPreferences),
	}
}

// IsEmpty reports whether the profile carries no facts at all.
func (p HealthProfile) IsEmpty() bool {
	return len(p.Allergies) == 0 && len(p.ChronicConditions) == 0 && len(p.DietaryPreferences) == 0
}

func dedupeFold(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// RawLabelText is the OCR text handed to the normalizer.
// DeclaredLanguage is empty when the caller did not declare one.
type RawLabelText struct {
	Text             string `json:"text"`
	DeclaredLanguage string `json:"declared_language,omitempty"`
}

// ParsedIngredient is one entry of the label's ingredient list.
// Name keeps the display form; NormalizedName is folded for matching.
type ParsedIngredient struct {
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
}

// ParsedNutrient is one row of the nutrient table with units already resolved
// into the label (e.g. "sugar_g").
type ParsedNutrient struct {
	Label          string   `json:"label"`
	Value          float64  `json:"value"`
	MaxRecommended *float64 `json:"max_recommended,omitempty"`
}

// NormalizedLabel is the structured output of the label normalizer.
type NormalizedLabel struct {
	ProductName string             `json:"product_name,omitempty"`
	Ingredients []ParsedIngredient `json:"ingredients"`
	Nutrients   []ParsedNutrient   `json:"nutrients"`
	// Heuristic is set when the model output was unusable and the
	// deterministic segmenter produced the result instead.
	Heuristic bool `json:"heuristic,omitempty"`
}

// IngredientRisk is the rule engine's verdict for one ingredient.
type IngredientRisk struct {
	Ingredient ParsedIngredient `json:"ingredient"`
	Level      RiskLevel        `json:"level"`
	Reasons    []string         `json:"reasons"`
}

// Summary is the composer's output.
type Summary struct {
	Explanation string    `json:"explanation"`
	Risk        RiskLevel `json:"risk"`
	Fallback    bool      `json:"fallback,omitempty"`
}

// ScanResult is the unit handed to persistence.
type ScanResult struct {
	ID                 uuid.UUID          `json:"id"`
	UserID             uuid.UUID          `json:"user_id"`
	ProductName        string             `json:"product_name"`
	RawText            string             `json:"raw_text"`
	Language           string             `json:"language,omitempty"`
	Ingredients        []ParsedIngredient `json:"ingredients"`
	Nutrients          []ParsedNutrient   `json:"nutrients"`
	IngredientRisks    []IngredientRisk   `json:"ingredient_risks"`
	SummaryExplanation string             `json:"summary_explanation"`
	SummaryRisk        RiskLevel          `json:"summary_risk"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ScanListItem is the abbreviated form returned when listing scans.
type ScanListItem struct {
	ID          uuid.UUID `json:"id"`
	ProductName string    `json:"product_name"`
	SummaryRisk RiskLevel `json:"summary_risk"`
	CreatedAt   time.Time `json:"created_at"`
}
