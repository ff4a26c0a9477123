package engine

import (
	"context"
	"errors"

	"intent-engine/internal/intent/solver"
	"intent-engine/internal/models"
)

// ErrIntentSkip returned by a handler hands the request to the next ranked
// intent.
var ErrIntentSkip = errors.New("INTENT_SKIPPED")

// Handler is the callback bound to one intent. Its output is returned in
// Result.Output.
type Handler func(ctx context.Context, m *IntentMatch) (interface{}, error)

// IntentMatch is what a handler sees: the winning intent and the entities
// bound to each of its terms.
type IntentMatch struct {
	IntentID     string
	RequestID    string
	SessionID    string
	VariantIndex int
	Variant      models.Variant

	terms  []solver.TermMatch
	byName map[string]int
}

func newIntentMatch(req Request, requestID string, c *solver.Candidate) *IntentMatch {
	m := &IntentMatch{
		IntentID:     c.Template.ID,
		RequestID:    requestID,
		SessionID:    req.SessionID,
		VariantIndex: c.VariantIndex,
		Variant:      req.Variants[c.VariantIndex],
		terms:        c.Assignment,
		byName:       make(map[string]int, len(c.Assignment)),
	}
	for i, tm := range c.Assignment {
		m.byName[tm.Name] = i
	}
	return m
}

// Term returns the first entity bound to the named term.
func (m *IntentMatch) Term(name string) (models.Entity, bool) {
	ents := m.TermEntities(name)
	if len(ents) == 0 {
		return models.Entity{}, false
	}
	return ents[0], true
}

// TermEntities returns all entities bound to the named term, nil for unknown
// or empty terms.
func (m *IntentMatch) TermEntities(name string) []models.Entity {
	i, ok := m.byName[name]
	if !ok {
		return nil
	}
	return m.terms[i].Entities
}

// TermByIndex addresses terms by declaration position.
func (m *IntentMatch) TermByIndex(i int) []models.Entity {
	if i < 0 || i >= len(m.terms) {
		return nil
	}
	return m.terms[i].Entities
}

// TermNames lists the terms of the matched intent in declared order.
func (m *IntentMatch) TermNames() []string {
	out := make([]string, len(m.terms))
	for i, tm := range m.terms {
		out[i] = tm.Name
	}
	return out
}

// Terms maps every term name to its entities.
func (m *IntentMatch) Terms() map[string][]models.Entity {
	out := make(map[string][]models.Entity, len(m.terms))
	for _, tm := range m.terms {
		out[tm.Name] = tm.Entities
	}
	return out
}
