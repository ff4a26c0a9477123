package dsl

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Unbounded is the max quantifier of '*' and '+' terms.
const Unbounded = math.MaxInt32

// Term is a named, quantified slot of an intent template.
type Term struct {
	Name           string
	Index          int
	Predicate      Predicate
	Min, Max       int
	Ordered        bool
	Conversational bool
	Pos            int
}

// Optional reports whether the term may be left empty.
func (t *Term) Optional() bool { return t.Min == 0 }

// Label is the term name, or "#<index>" for anonymous terms.
func (t *Term) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("#%d", t.Index)
}

func (t *Term) String() string {
	op := "="
	if t.Conversational {
		op = "~"
	}
	name := ""
	if t.Name != "" {
		name = "(" + t.Name + ")"
	}
	return fmt.Sprintf("term%s%s{%s}%s", name, op, t.Predicate, quantString(t.Min, t.Max))
}

func quantString(min, max int) string {
	switch {
	case min == 1 && max == 1:
		return ""
	case min == 0 && max == 1:
		return "?"
	case min == 0 && max == Unbounded:
		return "*"
	case min == 1 && max == Unbounded:
		return "+"
	default:
		return fmt.Sprintf("[%d,%d]", min, max)
	}
}

// Template is a compiled intent. It is never mutated after compilation and
// is shared read-only by all matching calls.
type Template struct {
	ID             string
	Terms          []*Term
	Ordered        bool
	Conversational bool
	// Flow, when set, must match the session's dialog flow.
	Flow   *regexp.Regexp
	Source string
	// Order is the registration position, assigned by the engine builder.
	Order int
}

// FlowMatches reports whether the template may be tried after the given
// intents, oldest first.
func (t *Template) FlowMatches(flow []string) bool {
	if t.Flow == nil {
		return true
	}
	return t.Flow.MatchString(strings.Join(flow, " "))
}

// Term returns the named term.
func (t *Template) Term(name string) (*Term, bool) {
	for _, term := range t.Terms {
		if term.Name == name {
			return term, true
		}
	}
	return nil, false
}

// TermNames lists the declared term names in order, anonymous terms included
// under their label.
func (t *Template) TermNames() []string {
	out := make([]string, len(t.Terms))
	for i, term := range t.Terms {
		out[i] = term.Label()
	}
	return out
}

// MandatoryCount is the number of non-optional terms.
func (t *Template) MandatoryCount() int {
	n := 0
	for _, term := range t.Terms {
		if !term.Optional() {
			n++
		}
	}
	return n
}

// WithOrder returns a copy of the template carrying a registration position.
func (t *Template) WithOrder(order int) *Template {
	cp := *t
	cp.Order = order
	return &cp
}

func (t *Template) String() string {
	parts := make([]string, 0, len(t.Terms)+1)
	parts = append(parts, "intent="+t.ID)
	if t.Ordered {
		parts = append(parts, "ordered=true")
	}
	if !t.Conversational {
		parts = append(parts, "conv=false")
	}
	if t.Flow != nil {
		parts = append(parts, "flow="+quote(t.Flow.String()))
	}
	for _, term := range t.Terms {
		parts = append(parts, term.String())
	}
	return strings.Join(parts, " ")
}

// quote renders s as a DSL string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
