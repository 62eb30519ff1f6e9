// Package summary composes the headline risk and a grounded explanation for a
// scan. The headline risk is computed deterministically; only the wording of
// the explanation comes from the language model.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/prompts"
	"github.com/jonathan/labelscan/internal/risk"
	"github.com/jonathan/labelscan/internal/schemas"
	"github.com/jonathan/labelscan/internal/types"
	"go.uber.org/zap"
)

// DefaultMaxOutputTokens bounds the summarize-risk reply.
const DefaultMaxOutputTokens = 300

// summaryResponse is the summarize-risk response shape.
type summaryResponse struct {
	Explanation string `json:"explanation"`
}

// fallbackText holds the templated sentences for one language.
type fallbackText struct {
	unableToAnalyze string
	noMatches       string
	noProfile       string
	flagged         string
}

var fallbackTexts = map[string]fallbackText{
	"en": {
		unableToAnalyze: "We were unable to fully analyze this label because no ingredients could be read. Treat it with caution.",
		noMatches:       "No ingredients matched your health profile.",
		noProfile:       "No ingredients matched your health profile. Add allergies, conditions or dietary preferences for a personalized check.",
		flagged:         "Overall risk %s. %s.",
	},
	"tr": {
		unableToAnalyze: "İçindekiler okunamadığı için bu etiket tam olarak analiz edilemedi. Dikkatli olun.",
		noMatches:       "Hiçbir içerik sağlık profilinizle eşleşmedi.",
		noProfile:       "Hiçbir içerik sağlık profilinizle eşleşmedi. Kişisel analiz için alerji, hastalık veya beslenme tercihlerinizi ekleyin.",
		flagged:         "Genel risk %s. %s.",
	},
}

// Composer produces Summaries. It never fails.
type Composer struct {
	gen             gateway.Generator
	logger          *zap.Logger
	maxOutputTokens int
}

// NewComposer creates a Composer. A nil logger disables logging.
func NewComposer(gen gateway.Generator, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{gen: gen, logger: logger, maxOutputTokens: DefaultMaxOutputTokens}
}

// Compose returns the headline risk and explanation for the assessed
// ingredients. With no ingredients the risk is Medium and the explanation
// states the label could not be fully analyzed; the model is not called.
// Any gateway failure yields a templated explanation built from the reasons.
func (c *Composer) Compose(ctx context.Context, risks []types.IngredientRisk, profile types.HealthProfile, language string) types.Summary {
	level := risk.Aggregate(risks)
	texts := textsFor(language)

	if len(risks) == 0 {
		return types.Summary{Explanation: texts.unableToAnalyze, Risk: level, Fallback: true}
	}

	var resp summaryResponse
	err := c.gen.Generate(ctx, gateway.KindSummarizeRisk,
		gateway.Vars{
			"OverallRisk":  level.String(),
			"Risks":        FormatRisks(risks),
			"LanguageName": prompts.LanguageName(language),
		},
		gateway.Constraints{MaxOutputTokens: c.maxOutputTokens, Shape: schemas.ShapeRiskSummary},
		&resp)
	if err == nil {
		if explanation := strings.TrimSpace(resp.Explanation); explanation != "" {
			return types.Summary{Explanation: explanation, Risk: level}
		}
		err = errors.New("empty explanation")
	}

	c.logger.Warn("summarize-risk failed, using templated explanation", zap.Error(err))
	return types.Summary{Explanation: Fallback(risks, profile, language), Risk: level, Fallback: true}
}

// Fallback builds an explanation from the reasons of every non-Low
// ingredient. It always returns a non-empty string.
func Fallback(risks []types.IngredientRisk, profile types.HealthProfile, language string) string {
	texts := textsFor(language)
	if len(risks) == 0 {
		return texts.unableToAnalyze
	}
	flagged := risk.FlaggedReasons(risks)
	if len(flagged) == 0 {
		if profile.IsEmpty() {
			return texts.noProfile
		}
		return texts.noMatches
	}
	return fmt.Sprintf(texts.flagged, risk.Aggregate(risks), strings.Join(flagged, ". "))
}

// FormatRisks renders the grounding list handed to the model, one line per
// ingredient.
func FormatRisks(risks []types.IngredientRisk) string {
	var sb strings.Builder
	for _, r := range risks {
		sb.WriteString("- ")
		sb.WriteString(r.Ingredient.Name)
		sb.WriteString(": ")
		sb.WriteString(r.Level.String())
		if len(r.Reasons) > 0 {
			sb.WriteString(" (")
			sb.WriteString(strings.Join(r.Reasons, "; "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func textsFor(language string) fallbackText {
	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if t, ok := fallbackTexts[lang]; ok {
		return t
	}
	return fallbackTexts["en"]
}
