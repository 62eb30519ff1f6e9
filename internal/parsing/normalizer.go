// Package parsing turns raw OCR label text into a normalized ingredient list
// and nutrient table using the language model gateway, with a deterministic
// segmenter as fallback when the model reply is unusable.
package parsing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/schemas"
	"github.com/jonathan/labelscan/internal/textnorm"
	"github.com/jonathan/labelscan/internal/types"
	"go.uber.org/zap"
)

// DefaultMaxOutputTokens bounds the normalize-label reply.
const DefaultMaxOutputTokens = 2048

// ingredientList accepts either a JSON array of names or a single
// comma-separated string.
type ingredientList []string

func (l *ingredientList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = SplitIngredientList(s)
		return nil
	}
	var items []*string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	*l = out
	return nil
}

// labelReply is the normalize-label response shape.
type labelReply struct {
	ProductName *string        `json:"product_name"`
	Ingredients ingredientList `json:"ingredients"`
	Nutrients   []rawNutrient  `json:"nutrients"`
}

// Normalizer corrects and segments raw label text.
type Normalizer struct {
	gen             gateway.Generator
	logger          *zap.Logger
	maxOutputTokens int
}

// NewNormalizer creates a Normalizer. A nil logger disables logging.
func NewNormalizer(gen gateway.Generator, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{gen: gen, logger: logger, maxOutputTokens: DefaultMaxOutputTokens}
}

// Normalize extracts ingredients and nutrients from raw label text.
//
// Text without a single letter or digit yields *EmptyInputError. An unusable
// model reply falls back to the heuristic segmenter; an unavailable model is
// returned to the caller. An empty ingredient list is a valid result.
func (n *Normalizer) Normalize(ctx context.Context, raw types.RawLabelText) (*types.NormalizedLabel, error) {
	if !textnorm.HasAlnum(raw.Text) {
		return nil, &EmptyInputError{Field: "raw_text"}
	}

	language := strings.TrimSpace(raw.DeclaredLanguage)
	if language == "" {
		language = "unknown"
	}

	var reply labelReply
	err := n.gen.Generate(ctx, gateway.KindNormalizeLabel,
		gateway.Vars{"RawText": raw.Text, "Language": language},
		gateway.Constraints{MaxOutputTokens: n.maxOutputTokens, Shape: schemas.ShapeNormalizedLabel},
		&reply)
	if err != nil {
		var malformed *gateway.MalformedResponseError
		if errors.As(err, &malformed) {
			n.logger.Warn("normalize-label reply unusable, using heuristic segmenter", zap.Error(err))
			label := HeuristicSegment(raw.Text)
			return &label, nil
		}
		return nil, fmt.Errorf("normalize label: %w", err)
	}

	label := &types.NormalizedLabel{
		Ingredients: NormalizeIngredients(reply.Ingredients),
		Nutrients:   NormalizeNutrients(reply.Nutrients),
	}
	if reply.ProductName != nil {
		label.ProductName = strings.TrimSpace(*reply.ProductName)
	}

	n.logger.Debug("label normalized",
		zap.Int("ingredients", len(label.Ingredients)),
		zap.Int("nutrients", len(label.Nutrients)),
		zap.Int("dropped_ingredients", len(reply.Ingredients)-len(label.Ingredients)),
	)
	return label, nil
}
