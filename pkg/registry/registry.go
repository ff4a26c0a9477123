// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"intent-engine/internal/intent/macro"
)

var ErrInvalidModel = errors.New("MODEL_LOAD_FAILED")

// Format of a model document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension; anything other than
// .json is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadModel reads, validates and decodes a model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return ParseModel(data, FormatOf(path))
}

// ParseModel validates data against the model schema and decodes it.
func ParseModel(data []byte, format Format) (*Model, error) {
	var doc interface{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidModel, err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidModel, err)
		}
	}

	if err := Validate(doc); err != nil {
		return nil, err
	}

	var model Model
	var err error
	if format == FormatJSON {
		err = json.Unmarshal(data, &model)
	} else {
		err = yaml.Unmarshal(data, &model)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return &model, nil
}

// Validate checks a decoded document against the model schema.
func Validate(doc interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(modelSchema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("%w: schema validation: %v", ErrInvalidModel, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidModel, strings.Join(msgs, "; "))
	}
	return nil
}

// ExpandSynonyms registers the model macros on proc and returns the expanded
// synonyms of every element keyed by element id, with macro escapes removed.
func (m *Model) ExpandSynonyms(proc *macro.Processor) (map[string][]string, error) {
	for _, md := range m.Macros {
		if err := macro.ValidateName(md.Name); err != nil {
			return nil, err
		}
		proc.AddMacro(md.Name, md.Macro)
	}

	out := make(map[string][]string, len(m.Elements))
	for _, el := range m.Elements {
		seen := map[string]bool{}
		var syns []string
		for _, s := range el.Synonyms {
			expanded, err := proc.Expand(s)
			if err != nil {
				return nil, fmt.Errorf("element %s: %w", el.ID, err)
			}
			for _, x := range expanded {
				x = macro.Unescape(x)
				if x != "" && !seen[x] {
					seen[x] = true
					syns = append(syns, x)
				}
			}
		}
		out[el.ID] = syns
	}
	return out, nil
}
