package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/labelscan/internal/parsing"
	"github.com/jonathan/labelscan/internal/textnorm"
	"github.com/jonathan/labelscan/internal/types"
)

// BuildGrounding renders the facts the assistant may rely on: the scan (when
// the conversation is scoped to one) and the user's health profile.
func BuildGrounding(scan *types.ScanResult, profile types.HealthProfile) string {
	var lines []string

	if scan != nil {
		name := scan.ProductName
		if name == "" {
			name = "Unknown product"
		}
		lines = append(lines, "Product name: "+name)
		if len(scan.Ingredients) > 0 {
			names := make([]string, 0, len(scan.Ingredients))
			for _, ing := range scan.Ingredients {
				names = append(names, ing.Name)
			}
			lines = append(lines, "Ingredients: "+strings.Join(names, ", "))
		}
		if len(scan.IngredientRisks) > 0 {
			lines = append(lines, "Ingredient risks:")
			for _, r := range scan.IngredientRisks {
				line := fmt.Sprintf("- %s: %s", r.Ingredient.Name, r.Level)
				if len(r.Reasons) > 0 {
					line += " (" + strings.Join(r.Reasons, "; ") + ")"
				}
				lines = append(lines, line)
			}
		}
		if len(scan.Nutrients) > 0 {
			parts := make([]string, 0, len(scan.Nutrients))
			for _, n := range scan.Nutrients {
				parts = append(parts, n.Label+" "+strconv.FormatFloat(n.Value, 'f', -1, 64))
			}
			lines = append(lines, "Nutrients per 100g/ml: "+strings.Join(parts, ", "))
		}
		if scan.SummaryExplanation != "" {
			lines = append(lines, fmt.Sprintf("Summary analysis (%s risk): %s", scan.SummaryRisk, scan.SummaryExplanation))
		}
	} else {
		lines = append(lines, "No product is selected. Answer from the user's health profile and general nutrition knowledge.")
	}

	lines = append(lines,
		"User allergies: "+listOrNone(profile.Allergies),
		"Chronic conditions: "+listOrNone(profile.ChronicConditions),
		"Dietary preferences: "+listOrNone(profile.DietaryPreferences),
	)
	return strings.Join(lines, "\n")
}

// FormatHistory renders prior turns oldest first.
func FormatHistory(turns []types.ConversationTurn) string {
	if len(turns) == 0 {
		return "(no previous messages)"
	}
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		if t.Role == types.RoleAssistant {
			sb.WriteString("Assistant: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// Window returns the most recent n turns; older turns are dropped first.
func Window(turns []types.ConversationTurn, n int) []types.ConversationTurn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// ConfidenceFor is high when the message names an ingredient or nutrient of
// the scan, low otherwise. A message naming a compound of a scan ingredient
// ("soya lecithin" on a scan listing "Soya") counts as naming the ingredient.
func ConfidenceFor(message string, scan *types.ScanResult) types.Confidence {
	if scan == nil {
		return types.ConfidenceLow
	}
	msgTokens := make(map[string]bool)
	for _, tok := range textnorm.Tokens(message) {
		msgTokens[tok] = true
	}

	mentions := func(subject string) bool {
		if textnorm.ContainsPhrase(message, subject) {
			return true
		}
		tokens := textnorm.Tokens(subject)
		if len(tokens) == 0 {
			return false
		}
		for _, tok := range tokens {
			if !msgTokens[tok] {
				return false
			}
		}
		return true
	}

	for _, ing := range scan.Ingredients {
		if mentions(ing.Name) {
			return types.ConfidenceHigh
		}
	}
	for _, n := range scan.Nutrients {
		for _, subject := range parsing.NutrientSubjects(n.Label) {
			if mentions(subject) {
				return types.ConfidenceHigh
			}
		}
	}
	return types.ConfidenceLow
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "None"
	}
	return strings.Join(values, ", ")
}
