package risk

import (
	"strings"

	"github.com/jonathan/labelscan/internal/textnorm"
)

// minReverseLen is the shortest ingredient that may match by being contained
// in a profile term. It keeps fragments like "e" from matching everything.
const minReverseLen = 3

// MatchesTerm reports whether a normalized ingredient name contains term.
// Containment is by substring ("sodium nitrate" contains "sodium") or by every
// singularized token of the term appearing among the ingredient's tokens
// ("peanut oil" contains "peanuts").
func MatchesTerm(normalizedName, term string) bool {
	ing := textnorm.Fold(normalizedName)
	t := textnorm.Fold(term)
	if ing == "" || t == "" {
		return false
	}
	if strings.Contains(ing, t) {
		return true
	}
	return containsAllTokens(ing, t)
}

// MatchesAllergy is MatchesTerm plus the reverse direction: an ingredient
// contained in the allergy entry ("milk" against "milk protein") also counts.
func MatchesAllergy(normalizedName, allergy string) bool {
	if MatchesTerm(normalizedName, allergy) {
		return true
	}
	ing := textnorm.Fold(normalizedName)
	a := textnorm.Fold(allergy)
	return len(ing) >= minReverseLen && a != "" && strings.Contains(a, ing)
}

func containsAllTokens(ingredient, term string) bool {
	have := make(map[string]bool)
	for _, tok := range textnorm.Tokens(ingredient) {
		have[tok] = true
	}
	want := textnorm.Tokens(term)
	if len(want) == 0 {
		return false
	}
	for _, tok := range want {
		if !have[tok] {
			return false
		}
	}
	return true
}
