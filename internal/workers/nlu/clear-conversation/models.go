// internal/workers/nlu/clear-conversation/models.go
package clearconversation

import "intent-engine/internal/common/validation"

// Scopes of a clear request.
const (
	ScopeAll      = "all"
	ScopeEntities = "entities"
	ScopeDialog   = "dialog"
)

// Input selects what to forget. An empty EntityIDs or IntentIDs list clears
// every item of that scope.
type Input struct {
	SessionID string   `json:"sessionId"`
	Scope     string   `json:"scope"`
	EntityIDs []string `json:"entityIds,omitempty"`
	IntentIDs []string `json:"intentIds,omitempty"`
}

type Output struct {
	SessionID       string `json:"sessionId"`
	Scope           string `json:"scope"`
	RemovedEntities int    `json:"removedEntities"`
	RemovedDialog   int    `json:"removedDialog"`
	Status          string `json:"conversationStatus"`
}

var inputSchema = validation.NewSchema(TaskType, `{
  "type": "object",
  "required": ["sessionId"],
  "properties": {
    "sessionId": {"type": "string", "minLength": 1},
    "scope": {"type": "string", "enum": ["", "all", "entities", "dialog"]},
    "entityIds": {"type": "array", "items": {"type": "string"}},
    "intentIds": {"type": "array", "items": {"type": "string"}}
  }
}`)
