package schemas

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapes_AllEmbeddedSchemasCompile(t *testing.T) {
	shapes := Shapes()
	assert.Equal(t, []string{ShapeChatReply, ShapeNormalizedLabel, ShapeRiskSummary}, shapes)

	for _, shape := range shapes {
		t.Run(shape, func(t *testing.T) {
			data, err := schemaFiles.ReadFile(shape + ".schema.json")
			require.NoError(t, err)
			var v map[string]any
			require.NoError(t, json.Unmarshal(data, &v))

			_, err = loadShape(shape)
			assert.NoError(t, err)
		})
	}
}

func TestValidateShape(t *testing.T) {
	tests := []struct {
		name    string
		shape   string
		doc     string
		wantErr bool
	}{
		{
			name:  "label with ingredient array",
			shape: ShapeNormalizedLabel,
			doc:   `{"product_name":"Choco","ingredients":["sugar","cocoa"],"nutrients":[{"label":"sugar","value":12.5,"unit":"g","max_recommended":null}]}`,
		},
		{
			name:  "label with ingredient string",
			shape: ShapeNormalizedLabel,
			doc:   `{"ingredients":"sugar, cocoa butter"}`,
		},
		{
			name:    "label missing ingredients",
			shape:   ShapeNormalizedLabel,
			doc:     `{"nutrients":[]}`,
			wantErr: true,
		},
		{
			name:  "bad nutrient rows are left to the normalizer",
			shape: ShapeNormalizedLabel,
			doc:   `{"ingredients":[],"nutrients":[{"label":"salt","value":"1.2"},{"value":3},"sugar 4g"]}`,
		},
		{
			name:    "nutrients not a list",
			shape:   ShapeNormalizedLabel,
			doc:     `{"ingredients":[],"nutrients":"sugar 4g"}`,
			wantErr: true,
		},
		{
			name:  "summary",
			shape: ShapeRiskSummary,
			doc:   `{"explanation":"Peanut oil matches your allergy."}`,
		},
		{
			name:    "summary wrong type",
			shape:   ShapeRiskSummary,
			doc:     `{"explanation":42}`,
			wantErr: true,
		},
		{
			name:    "empty chat reply",
			shape:   ShapeChatReply,
			doc:     `{"reply":""}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateShape(tt.shape, tt.doc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.NotEmpty(t, ve.Errors)
		})
	}
}

func TestValidateShape_UnknownShape(t *testing.T) {
	err := ValidateShape("nope", `{}`)

	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, err.Error(), "unknown shape")
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Errors: []FieldError{{Field: "reply", Message: "is required"}}}
	assert.Contains(t, err.Error(), "1. reply: is required")
}
