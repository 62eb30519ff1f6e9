package parsing

import (
	"regexp"
	"strings"

	"github.com/jonathan/labelscan/internal/types"
)

// ingredientsHeader matches the start of an ingredient section in English
// or Turkish, including common OCR confusions of the letters i/l and e.
var ingredientsHeader = regexp.MustCompile(`(?i)(?:[i1l|]ngr[e3][d]?[i1l][e3]nts?|[iİı1]ç[iİı1]ndek[iİı1]ler|[iİı1]çer[iİı1]k|compos[i1]t[i1]on)\s*[:\-]?`)

// sectionEnd matches headers that follow an ingredient list. Words that can
// also name an ingredient ("energy drink") only count in header form: followed
// by a colon on the same item, or by an amount.
var sectionEnd = regexp.MustCompile(`(?i)` +
	`\b(?:nutrition|besin\s+de[gğ]erleri)` +
	`|\b(?:energy|enerji|allergen|alerjen|storage|saklama|net\s+(?:weight|miktar))[^,;:\n]{0,40}:` +
	`|\b(?:energy|enerji)\s*\(?\d`)

// HeuristicSegment extracts ingredients without the model by locating an
// ingredients header and splitting what follows on top-level commas. It never
// fails; with no header it returns an empty ingredient list.
func HeuristicSegment(text string) types.NormalizedLabel {
	label := types.NormalizedLabel{
		Ingredients: []types.ParsedIngredient{},
		Nutrients:   []types.ParsedNutrient{},
		Heuristic:   true,
	}

	loc := ingredientsHeader.FindStringIndex(text)
	if loc == nil {
		return label
	}
	section := text[loc[1]:]
	if end := sectionEnd.FindStringIndex(section); end != nil {
		section = section[:end[0]]
	}
	// A blank line or a sentence end closes the list.
	if i := strings.Index(section, "\n\n"); i >= 0 {
		section = section[:i]
	}
	if i := strings.Index(section, ". "); i >= 0 {
		section = section[:i]
	}
	section = strings.ReplaceAll(section, "\n", " ")

	label.Ingredients = NormalizeIngredients(SplitIngredientList(section))
	return label
}
