package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArray_Scan(t *testing.T) {
	tests := []struct {
		name     string
		src      any
		expected []string
		wantErr  bool
	}{
		{name: "bytes", src: []byte(`["peanuts","milk"]`), expected: []string{"peanuts", "milk"}},
		{name: "text", src: `["gluten"]`, expected: []string{"gluten"}},
		{name: "null", src: nil, expected: []string{}},
		{name: "json null", src: []byte(`null`), expected: []string{}},
		{name: "wrong type", src: 42, wantErr: true},
		{name: "not an array", src: []byte(`{"a":1}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a StringArray
			err := a.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, a.Strings())
		})
	}
}

func TestStringArray_Value(t *testing.T) {
	v, err := StringArray(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)

	v, err = StringArray{"vegan"}.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`["vegan"]`), v)
}

func TestSchemaSQL_Embedded(t *testing.T) {
	for _, table := range []string{"health_profiles", "scans", "scan_ingredients", "scan_nutrients", "chat_messages"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	require.NotNil(t, nullIfEmpty("tr"))
	assert.Equal(t, "tr", *nullIfEmpty("tr"))
}
