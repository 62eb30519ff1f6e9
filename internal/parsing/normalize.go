package parsing

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jonathan/labelscan/internal/textnorm"
	"github.com/jonathan/labelscan/internal/types"
)

// kcalPerKJ converts kilojoules to kilocalories.
const kcalPerKJ = 1 / 4.184

// nutrientAliases maps folded nutrient names (English and Turkish) to
// canonical labels.
var nutrientAliases = map[string]string{
	"energy":             "energy",
	"energy value":       "energy",
	"enerji":             "energy",
	"calories":           "energy",
	"calorie":            "energy",
	"fat":                "fat_total",
	"total fat":          "fat_total",
	"fat total":          "fat_total",
	"yag":                "fat_total",
	"toplam yag":         "fat_total",
	"saturated fat":      "fat_saturated",
	"fat saturated":      "fat_saturated",
	"saturates":          "fat_saturated",
	"doymus yag":         "fat_saturated",
	"trans fat":          "fat_trans",
	"fat trans":          "fat_trans",
	"trans yag":          "fat_trans",
	"carbohydrate":       "carbohydrate",
	"carbohydrates":      "carbohydrate",
	"carbs":              "carbohydrate",
	"karbonhidrat":       "carbohydrate",
	"sugar":              "sugar",
	"sugars":             "sugar",
	"of which sugars":    "sugar",
	"seker":              "sugar",
	"sekerler":           "sugar",
	"fiber":              "fiber",
	"fibre":              "fiber",
	"dietary fiber":      "fiber",
	"lif":                "fiber",
	"posa":               "fiber",
	"protein":            "protein",
	"salt":               "salt",
	"tuz":                "salt",
	"sodium":             "sodium",
	"sodyum":             "sodium",
	"cholesterol":        "cholesterol",
	"kolesterol":         "cholesterol",

	"monounsaturated fat": "fat_monounsaturated",
	"polyunsaturated fat": "fat_polyunsaturated",
}

// unitSuffixes maps unit spellings to the canonical label suffix.
var unitSuffixes = map[string]string{
	"g":    "g",
	"gr":   "g",
	"gram": "g",
	"mg":   "mg",
	"mcg":  "mcg",
	"ug":   "mcg",
	"µg":   "mcg",
	"μg":   "mcg",
	"kcal": "kcal",
	"cal":  "kcal",
	"kj":   "kj",
	"ml":   "ml",
}

// rawNutrient is one nutrient row as returned by the model. Decoding never
// fails: fields of the wrong type are left unset so the row is dropped by
// NormalizeNutrients instead of invalidating the whole reply.
type rawNutrient struct {
	Label          string   `json:"label"`
	Value          *float64 `json:"value"`
	Unit           *string  `json:"unit"`
	MaxRecommended *float64 `json:"max_recommended"`
}

func (n *rawNutrient) UnmarshalJSON(data []byte) error {
	*n = rawNutrient{}
	var fields struct {
		Label          json.RawMessage `json:"label"`
		Value          json.RawMessage `json:"value"`
		Unit           json.RawMessage `json:"unit"`
		MaxRecommended json.RawMessage `json:"max_recommended"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	if label := lenientString(fields.Label); label != nil {
		n.Label = *label
	}
	n.Value = lenientNumber(fields.Value)
	n.Unit = lenientString(fields.Unit)
	n.MaxRecommended = lenientNumber(fields.MaxRecommended)
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func lenientString(raw json.RawMessage) *string {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return &s
}

// lenientNumber accepts a JSON number or a numeric string, with either a
// dot or a comma as decimal separator ("0,5").
func lenientNumber(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	s := lenientString(raw)
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(*s), ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

// NormalizeIngredientName cleans a display name: trims whitespace and stray
// punctuation and collapses inner runs of whitespace.
func NormalizeIngredientName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, " .;:*•-_")
	return name
}

// NormalizeIngredients builds ParsedIngredients from raw names, dropping
// entries without content and merging duplicates by normalized name. The
// first occurrence's display name wins and order is preserved.
func NormalizeIngredients(names []string) []types.ParsedIngredient {
	out := make([]types.ParsedIngredient, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := NormalizeIngredientName(raw)
		normalized := textnorm.Fold(name)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, types.ParsedIngredient{Name: name, NormalizedName: normalized})
	}
	return out
}

// SplitIngredientList splits a comma or semicolon separated ingredient list,
// keeping separators inside parentheses or brackets with their ingredient.
func SplitIngredientList(text string) []string {
	var parts []string
	var current strings.Builder
	depth := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
	}

	for _, r := range text {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',', ';', '\n':
			if depth == 0 {
				flush()
				continue
			}
		}
		current.WriteRune(r)
	}
	flush()
	return parts
}

// NormalizeNutrients resolves units into labels and drops rows whose value is
// missing, negative or not finite. Duplicate labels keep the first row.
func NormalizeNutrients(rows []rawNutrient) []types.ParsedNutrient {
	out := make([]types.ParsedNutrient, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.Value == nil || !validAmount(*row.Value) {
			continue
		}
		unit := ""
		if row.Unit != nil {
			unit = *row.Unit
		}
		label, factor, ok := resolveNutrientLabel(row.Label, unit)
		if !ok || seen[label] {
			continue
		}
		seen[label] = true

		n := types.ParsedNutrient{Label: label, Value: round(*row.Value * factor)}
		if row.MaxRecommended != nil && validAmount(*row.MaxRecommended) {
			maxRec := round(*row.MaxRecommended * factor)
			n.MaxRecommended = &maxRec
		}
		out = append(out, n)
	}
	return out
}

// resolveNutrientLabel returns the canonical "<name>_<unit>" label and the
// factor to apply to the value. Energy is always reported in kcal.
func resolveNutrientLabel(label, unit string) (string, float64, bool) {
	folded := textnorm.Fold(strings.ReplaceAll(label, "_", " "))
	if folded == "" {
		return "", 0, false
	}

	// A unit may already be embedded as the last token ("sugar_g").
	words := strings.Fields(folded)
	unit = strings.ToLower(strings.TrimSpace(unit))
	suffix, known := unitSuffixes[unit]
	if unit != "" && !known {
		// "%", "IU" and typos cannot be expressed in a canonical unit
		return "", 0, false
	}
	if last := words[len(words)-1]; len(words) > 1 {
		if s, ok := unitSuffixes[last]; ok {
			if suffix == "" {
				suffix = s
			}
			words = words[:len(words)-1]
		}
	}
	name := strings.Join(words, " ")
	if canonical, ok := nutrientAliases[name]; ok {
		name = canonical
	} else {
		name = strings.ReplaceAll(name, " ", "_")
	}

	factor := 1.0
	if name == "energy" {
		if suffix == "kj" {
			factor = kcalPerKJ
		}
		suffix = "kcal"
	}
	switch suffix {
	case "":
		suffix = "g"
	case "kj":
		// kJ only makes sense for energy
		return "", 0, false
	}
	return name + "_" + suffix, factor, true
}

var (
	subjectsOnce sync.Once
	subjects     map[string][]string
)

// NutrientSubjects returns the folded names a person might use for a
// canonical nutrient label: "fat_total_g" yields "fat", "total fat" and the
// Turkish spellings. Labels outside the alias table yield their own name.
func NutrientSubjects(label string) []string {
	subjectsOnce.Do(func() {
		subjects = make(map[string][]string)
		for alias, canonical := range nutrientAliases {
			subjects[canonical] = append(subjects[canonical], alias)
		}
		for _, names := range subjects {
			sort.Strings(names)
		}
	})

	name := label
	if i := strings.LastIndex(name, "_"); i > 0 {
		if _, ok := unitSuffixes[name[i+1:]]; ok {
			name = name[:i]
		}
	}
	if names, ok := subjects[name]; ok {
		return names
	}
	if name = strings.ReplaceAll(name, "_", " "); name == "" {
		return nil
	}
	return []string{name}
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
