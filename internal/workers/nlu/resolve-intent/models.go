// internal/workers/nlu/resolve-intent/models.go
package resolveintent

import (
	"intent-engine/internal/common/validation"
	"intent-engine/internal/models"
)

// Input is the job payload: one user turn with its entity readings.
type Input struct {
	SessionID string           `json:"sessionId"`
	Variants  []models.Variant `json:"variants"`
}

type Output struct {
	RequestID    string                     `json:"requestId"`
	IntentID     string                     `json:"intentId"`
	VariantIndex int                        `json:"variantIndex"`
	Terms        map[string][]models.Entity `json:"terms"`
	Score        string                     `json:"score"`
	Result       interface{}                `json:"result,omitempty"`
	TimedOut     []string                   `json:"timedOut,omitempty"`
}

// inputSchema guards job variables before they are decoded.
var inputSchema = validation.NewSchema(TaskType, `{
  "type": "object",
  "required": ["sessionId", "variants"],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "variants": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["entities"],
        "properties": {
          "entities": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "groups": {"type": "array", "items": {"type": "string"}},
                "startIndex": {"type": "integer", "minimum": 0},
                "endIndex": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`)
