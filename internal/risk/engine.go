// Package risk scores ingredients against a health profile. It is pure and
// deterministic: the same profile and ingredients always yield the same risks.
package risk

import (
	"strings"

	"github.com/jonathan/labelscan/internal/types"
)

// Engine evaluates the rule tables. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	tables *Tables
}

// NewEngine creates an engine over the given tables; nil selects the
// embedded defaults.
func NewEngine(tables *Tables) *Engine {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Engine{tables: tables}
}

// Assess returns one IngredientRisk per ingredient, in order.
//
// All rules are evaluated and the highest level wins. Reasons are listed in
// rule order: allergies, then chronic conditions, then dietary preferences.
func (e *Engine) Assess(profile types.HealthProfile, ingredients []types.ParsedIngredient) []types.IngredientRisk {
	profile = profile.Normalized()
	risks := make([]types.IngredientRisk, 0, len(ingredients))
	for _, ing := range ingredients {
		risks = append(risks, e.assessOne(profile, ing))
	}
	return risks
}

func (e *Engine) assessOne(profile types.HealthProfile, ing types.ParsedIngredient) types.IngredientRisk {
	name := ing.NormalizedName
	if name == "" {
		name = ing.Name
	}

	result := types.IngredientRisk{Ingredient: ing, Level: types.RiskLow, Reasons: []string{}}
	add := func(level types.RiskLevel, reason string) {
		result.Level = types.MaxRisk(result.Level, level)
		result.Reasons = append(result.Reasons, reason)
	}

	for _, allergy := range profile.Allergies {
		if MatchesAllergy(name, allergy) {
			add(types.RiskHigh, "matches allergy: "+allergy)
		}
	}

	for _, entry := range profile.ChronicConditions {
		cond := e.tables.lookupCondition(entry)
		if cond == nil {
			continue
		}
		var hit *TermRule
		for i := range cond.Terms {
			term := &cond.Terms[i]
			if MatchesTerm(name, term.Term) && (hit == nil || term.Level > hit.Level) {
				hit = term
			}
		}
		if hit != nil {
			add(hit.Level, "risk for "+entry+": "+hit.Term)
		}
	}

	for _, entry := range profile.DietaryPreferences {
		pref := e.tables.lookupPreference(entry)
		if pref == nil {
			continue
		}
		for _, conflict := range pref.Conflicts {
			if MatchesTerm(name, conflict) {
				add(types.RiskMedium, "conflicts with preference: "+entry)
				break
			}
		}
	}

	return result
}

// Aggregate returns the headline risk: the maximum level, or Medium when no
// ingredients were assessed.
func Aggregate(risks []types.IngredientRisk) types.RiskLevel {
	if len(risks) == 0 {
		return types.RiskMedium
	}
	level := types.RiskLow
	for _, r := range risks {
		level = types.MaxRisk(level, r.Level)
	}
	return level
}

// FlaggedReasons returns "ingredient: reason" lines for every non-Low risk,
// in ingredient order.
func FlaggedReasons(risks []types.IngredientRisk) []string {
	var lines []string
	for _, r := range risks {
		if r.Level == types.RiskLow {
			continue
		}
		lines = append(lines, r.Ingredient.Name+": "+strings.Join(r.Reasons, "; "))
	}
	return lines
}
