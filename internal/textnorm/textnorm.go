// Package textnorm folds label and profile text into a canonical form for
// matching: lower case, diacritics removed, punctuation collapsed to spaces.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that NFKD does not decompose into a base letter plus a mark.
var foldReplacer = strings.NewReplacer(
	"ı", "i",
	"ß", "ss",
	"æ", "ae",
	"ø", "o",
	"œ", "oe",
	"ł", "l",
)

// Fold returns s lower-cased and NFKD-folded to ASCII-ish tokens separated by
// single spaces. "Şeker (Sakkaroz)" becomes "seker sakkaroz".
func Fold(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = foldReplacer.Replace(folded)

	var sb strings.Builder
	sb.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// Tokens folds s and splits it into singularized tokens.
func Tokens(s string) []string {
	fields := strings.Fields(Fold(s))
	for i, f := range fields {
		fields[i] = Singular(f)
	}
	return fields
}

// Singular strips common English plural endings from a folded token.
func Singular(token string) string {
	n := len(token)
	switch {
	case n <= 3:
		return token
	case strings.HasSuffix(token, "ies") && n > 4:
		return token[:n-3] + "y"
	case strings.HasSuffix(token, "oes"),
		strings.HasSuffix(token, "ches"),
		strings.HasSuffix(token, "shes"),
		strings.HasSuffix(token, "xes"),
		strings.HasSuffix(token, "sses"):
		return token[:n-2]
	case strings.HasSuffix(token, "ss"), strings.HasSuffix(token, "us"), strings.HasSuffix(token, "is"):
		return token
	case strings.HasSuffix(token, "s"):
		return token[:n-1]
	default:
		return token
	}
}

// HasAlnum reports whether s contains at least one letter or digit.
func HasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// ContainsPhrase reports whether the folded phrase occurs in the folded text
// on token boundaries.
func ContainsPhrase(text, phrase string) bool {
	text, phrase = Fold(text), Fold(phrase)
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
