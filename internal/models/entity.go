package models

import (
	"fmt"
	"strings"
)

// Origin tells where an entity came from.
type Origin string

const (
	OriginCurrent      Origin = "current-turn"
	OriginConversation Origin = "conversation"
)

// Token is an atomic lexical unit produced by the upstream tokenizer.
type Token struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	POS   string `json:"pos,omitempty"`
	Lemma string `json:"lemma,omitempty"`
	Stem  string `json:"stem,omitempty"`
	Index int    `json:"index"`
}

// Entity is a recognized span over one or more tokens.
type Entity struct {
	ID         string                 `json:"id"`
	Groups     []string               `json:"groups,omitempty"`
	Value      string                 `json:"value,omitempty"`
	Text       string                 `json:"text,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	StartIndex int                    `json:"startIndex"`
	EndIndex   int                    `json:"endIndex"`
	Tokens     []Token                `json:"tokens,omitempty"`
	Origin     Origin                 `json:"origin,omitempty"`
}

// InGroup reports whether the entity belongs to the named group.
// The entity id is an implicit group.
func (e Entity) InGroup(group string) bool {
	if e.ID == group {
		return true
	}
	for _, g := range e.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// IsConversation reports whether the entity was recalled from conversation memory.
func (e Entity) IsConversation() bool {
	return e.Origin == OriginConversation
}

// WithOrigin returns a copy of the entity tagged with the given origin.
func (e Entity) WithOrigin(o Origin) Entity {
	e.Origin = o
	return e
}

// MetaString returns the metadata value under key formatted as a string.
func (e Entity) MetaString(key string) (string, bool) {
	v, ok := e.Meta[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Key identifies the entity within one sentence reading.
func (e Entity) Key() string {
	return fmt.Sprintf("%s@%d-%d:%s", e.ID, e.StartIndex, e.EndIndex, e.Value)
}

func (e Entity) String() string {
	label := e.Text
	if label == "" {
		label = e.Value
	}
	if label == "" {
		return e.ID
	}
	return e.ID + "(" + strings.TrimSpace(label) + ")"
}

// Variant is one self-consistent reading of the sentence's entities.
type Variant struct {
	Entities []Entity `json:"entities"`
}

// NewVariant builds a variant whose entities are all tagged current-turn.
func NewVariant(entities ...Entity) Variant {
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e.WithOrigin(OriginCurrent)
	}
	return Variant{Entities: out}
}
