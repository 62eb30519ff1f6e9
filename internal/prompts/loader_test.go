package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get(LabelsFile, "normalize-label.system")
	require.NoError(t, err)
	assert.Contains(t, prompt, "food label parser")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get(LabelsFile, "nonexistent-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestGetTemplate_AllKinds(t *testing.T) {
	for _, kind := range []string{"normalize-label", "summarize-risk", "answer-chat"} {
		t.Run(kind, func(t *testing.T) {
			tmpl, err := GetTemplate(LabelsFile, kind)
			require.NoError(t, err)
			assert.NotEmpty(t, tmpl.System)
			assert.NotEmpty(t, tmpl.User)
			assert.Contains(t, tmpl.System, "STRICT JSON")
		})
	}

	_, err := GetTemplate(LabelsFile, "unknown")
	assert.Error(t, err)
}

func TestTemplate_Render(t *testing.T) {
	tmpl := Template{System: "Respond in {{.LanguageName}}.", User: "Text: {{.RawText}} {{.Missing}}"}

	system, user := tmpl.Render(map[string]string{"LanguageName": "Turkish", "RawText": "şeker"})

	assert.Equal(t, "Respond in Turkish.", system)
	assert.Equal(t, "Text: şeker {{.Missing}}", user)
}

func TestLanguageName(t *testing.T) {
	tests := map[string]string{
		"tr":    "Turkish",
		"TR-tr": "Turkish",
		"en":    "English",
		"":      "English",
		"xx":    "English",
	}
	for code, expected := range tests {
		assert.Equal(t, expected, LanguageName(code), code)
	}
}
