package dsl

import (
	"fmt"
	"sort"
	"strings"

	"intent-engine/internal/models"
)

// FieldKind selects which part of an entity a predicate reads.
type FieldKind int

const (
	FieldID FieldKind = iota
	FieldValue
	FieldText
	FieldGroups
	FieldMeta
)

// Field is a key extractor over an entity.
type Field struct {
	Kind FieldKind
	Key  string // metadata key for FieldMeta
}

func (f Field) values(e models.Entity) []string {
	switch f.Kind {
	case FieldID:
		return []string{e.ID}
	case FieldValue:
		return []string{e.Value}
	case FieldText:
		return []string{e.Text}
	case FieldGroups:
		out := make([]string, 0, len(e.Groups)+1)
		out = append(out, e.ID)
		return append(out, e.Groups...)
	case FieldMeta:
		if v, ok := e.MetaString(f.Key); ok {
			return []string{v}
		}
		return nil
	}
	return nil
}

func (f Field) multi() bool { return f.Kind == FieldGroups }

func (f Field) String() string {
	switch f.Kind {
	case FieldID:
		return "tok_id()"
	case FieldValue:
		return "tok_value()"
	case FieldText:
		return "tok_text()"
	case FieldGroups:
		return "tok_groups()"
	case FieldMeta:
		return fmt.Sprintf("meta('%s')", f.Key)
	}
	return "?"
}

// Predicate is a compiled boolean test over one entity. Specificity ranks how
// narrow the test is; higher is narrower.
type Predicate interface {
	Eval(e models.Entity) bool
	Specificity() int
	String() string
}

// Eq compares a scalar field with a literal.
type Eq struct {
	Field  Field
	Value  string
	Negate bool
}

func (p Eq) Eval(e models.Entity) bool {
	vals := p.Field.values(e)
	hit := len(vals) == 1 && vals[0] == p.Value
	return hit != p.Negate
}

func (p Eq) Specificity() int {
	switch {
	case p.Negate:
		return 0
	case p.Field.Kind == FieldID:
		return 3
	default:
		return 2
	}
}

func (p Eq) String() string {
	op := "=="
	if p.Negate {
		op = "!="
	}
	return fmt.Sprintf("%s %s '%s'", p.Field, op, p.Value)
}

// InGroup tests membership in a named entity group.
type InGroup struct {
	Group string
}

func (p InGroup) Eval(e models.Entity) bool { return e.InGroup(p.Group) }
func (p InGroup) Specificity() int          { return 1 }
func (p InGroup) String() string            { return fmt.Sprintf("has(tok_groups(), '%s')", p.Group) }

// HasOneOf tests whether the extracted key is one of a literal list.
type HasOneOf struct {
	Values []string
	Field  Field
	set    map[string]struct{}
}

func NewHasOneOf(values []string, field Field) HasOneOf {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return HasOneOf{Values: values, Field: field, set: set}
}

func (p HasOneOf) Eval(e models.Entity) bool {
	for _, v := range p.Field.values(e) {
		if _, ok := p.set[v]; ok {
			return true
		}
	}
	return false
}

func (p HasOneOf) Specificity() int {
	switch {
	case p.Field.multi():
		return 1
	case p.Field.Kind == FieldID && len(p.Values) == 1:
		return 3
	default:
		return 2
	}
}

func (p HasOneOf) String() string {
	quoted := make([]string, len(p.Values))
	for i, v := range p.Values {
		quoted[i] = "'" + v + "'"
	}
	return fmt.Sprintf("has(list(%s), %s)", strings.Join(quoted, ", "), p.Field)
}

// And is true when every operand is true.
type And struct {
	Operands []Predicate
}

func (p And) Eval(e models.Entity) bool {
	for _, o := range p.Operands {
		if !o.Eval(e) {
			return false
		}
	}
	return true
}

func (p And) Specificity() int {
	s := 0
	for _, o := range p.Operands {
		s += o.Specificity()
	}
	return s
}

func (p And) String() string { return join(p.Operands, " && ") }

// Or is true when any operand is true.
type Or struct {
	Operands []Predicate
}

func (p Or) Eval(e models.Entity) bool {
	for _, o := range p.Operands {
		if o.Eval(e) {
			return true
		}
	}
	return false
}

// Specificity of a disjunction is its weakest branch.
func (p Or) Specificity() int {
	if len(p.Operands) == 0 {
		return 0
	}
	s := p.Operands[0].Specificity()
	for _, o := range p.Operands[1:] {
		if v := o.Specificity(); v < s {
			s = v
		}
	}
	return s
}

func (p Or) String() string { return join(p.Operands, " || ") }

type Not struct {
	Operand Predicate
}

func (p Not) Eval(e models.Entity) bool { return !p.Operand.Eval(e) }
func (p Not) Specificity() int          { return 0 }
func (p Not) String() string            { return "!" + p.Operand.String() }

type Const bool

func (p Const) Eval(models.Entity) bool { return bool(p) }
func (p Const) Specificity() int        { return 0 }
func (p Const) String() string          { return fmt.Sprint(bool(p)) }

func join(ops []Predicate, sep string) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Groups lists every group name the predicate tests membership of, sorted.
func Groups(p Predicate) []string {
	seen := map[string]struct{}{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch v := p.(type) {
		case InGroup:
			seen[v.Group] = struct{}{}
		case And:
			for _, o := range v.Operands {
				walk(o)
			}
		case Or:
			for _, o := range v.Operands {
				walk(o)
			}
		case Not:
			walk(v.Operand)
		}
	}
	walk(p)
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
