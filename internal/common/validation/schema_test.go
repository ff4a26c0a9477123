package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const turnSchema = `{
  "type": "object",
  "required": ["sessionId", "variants"],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "scope": {"type": "string", "enum": ["all", "entities"]},
    "variants": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["entities"],
        "properties": {"entities": {"type": "array"}}
      }
    }
  }
}`

func TestSchema_ValidateJSON(t *testing.T) {
	s := NewSchema("turn", turnSchema)

	tests := []struct {
		name      string
		doc       string
		wantValid bool
		wantField string
		wantCode  string
	}{
		{
			name:      "valid",
			doc:       `{"sessionId": "s1", "variants": [{"entities": []}]}`,
			wantValid: true,
		},
		{
			name:      "missing session",
			doc:       `{"variants": [{"entities": []}]}`,
			wantField: "sessionId",
			wantCode:  "REQUIRED_FIELD_MISSING",
		},
		{
			name:      "empty session",
			doc:       `{"sessionId": "", "variants": [{"entities": []}]}`,
			wantField: "sessionId",
			wantCode:  "MIN_LENGTH_VIOLATION",
		},
		{
			name:      "no variants",
			doc:       `{"sessionId": "s1", "variants": []}`,
			wantField: "variants",
			wantCode:  "MIN_LENGTH_VIOLATION",
		},
		{
			name:      "variant without entities",
			doc:       `{"sessionId": "s1", "variants": [{}]}`,
			wantField: "variants.0.entities",
			wantCode:  "REQUIRED_FIELD_MISSING",
		},
		{
			name:      "wrong type",
			doc:       `{"sessionId": 7, "variants": [{"entities": []}]}`,
			wantField: "sessionId",
			wantCode:  "INVALID_TYPE",
		},
		{
			name:      "bad enum",
			doc:       `{"sessionId": "s1", "scope": "dialog", "variants": [{"entities": []}]}`,
			wantField: "scope",
			wantCode:  "INVALID_ENUM_VALUE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.ValidateJSON(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Valid)
			if tt.wantValid {
				assert.Empty(t, res.Errors)
				return
			}
			require.True(t, res.HasErrors(tt.wantField), "errors: %v", res.GetErrorMessages())
			assert.Equal(t, tt.wantCode, res.GetErrorsForField(tt.wantField)[0].Code)
		})
	}
}

func TestSchema_ValidateValue(t *testing.T) {
	s := NewSchema("turn", turnSchema)

	res, err := s.ValidateValue(map[string]interface{}{"sessionId": "s1"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"variants: variants is required"}, res.GetErrorMessages())
}

func TestSchema_InvalidSource(t *testing.T) {
	s := NewSchema("broken", `{"type": 12}`)

	_, err := s.ValidateJSON(`{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema broken")
}

func TestSchema_MalformedDocument(t *testing.T) {
	s := NewSchema("turn", turnSchema)

	_, err := s.ValidateJSON(`{"sessionId":`)
	assert.Error(t, err)
}
