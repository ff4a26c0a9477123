// pkg/registry/schema.go
package registry

// Model is a deployable set of macros, entity elements, fragments and
// intents, loaded from YAML or JSON.
type Model struct {
	ID          string     `json:"id" yaml:"id"`
	Version     string     `json:"version" yaml:"version"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Macros      []MacroDef `json:"macros,omitempty" yaml:"macros,omitempty"`
	Elements    []Element  `json:"elements,omitempty" yaml:"elements,omitempty"`
	Fragments   []string   `json:"fragments,omitempty" yaml:"fragments,omitempty"`
	Intents     []string   `json:"intents" yaml:"intents"`
}

type MacroDef struct {
	Name  string `json:"name" yaml:"name"`
	Macro string `json:"macro" yaml:"macro"`
}

// Element declares an entity type the upstream recognizer produces, with
// macro-expandable synonyms.
type Element struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Groups      []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	Synonyms    []string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
}

// modelSchema is the JSON schema every model document must satisfy.
const modelSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "intents"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "macros": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "macro"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^<[A-Za-z0-9_]+>$"},
          "macro": {"type": "string"}
        }
      }
    },
    "elements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "groups": {"type": "array", "items": {"type": "string"}},
          "synonyms": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "fragments": {"type": "array", "items": {"type": "string", "pattern": "^\\s*fragment\\s*="}},
    "intents": {"type": "array", "minItems": 1, "items": {"type": "string", "pattern": "^\\s*intent\\s*="}}
  }
}`
