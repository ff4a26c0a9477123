// Package macro expands the synonym macro DSL into concrete strings.
//
// A macro name is bracket-delimited (<COLOR>) and its body may contain
// literal alternation (a|b), groups ({a|b|_}), group repetition ({a}[1,2])
// and references to other macros. Expansion is the full Cartesian product.
package macro

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxExpansions bounds the size of a single expansion result.
const MaxExpansions = 1 << 16

var (
	ErrUnknownMacro      = errors.New("UNKNOWN_MACRO")
	ErrInvalidMacroName  = errors.New("INVALID_MACRO_NAME")
	ErrTooManyExpansions = errors.New("TOO_MANY_EXPANSIONS")
)

// CyclicMacroError is returned when a macro transitively references itself.
type CyclicMacroError struct {
	Chain []string
}

func (e *CyclicMacroError) Error() string {
	return fmt.Sprintf("cyclic macro reference: %s", strings.Join(e.Chain, " -> "))
}

// Processor is a macro registry plus the expansion algorithm. The zero value
// is not usable; call NewProcessor.
type Processor struct {
	mu     sync.RWMutex
	macros map[string]string
}

func NewProcessor() *Processor {
	return &Processor{macros: make(map[string]string)}
}

// ValidateName checks the <NAME> form of a macro name.
func ValidateName(name string) error {
	if len(name) < 3 || name[0] != '<' || name[len(name)-1] != '>' {
		return fmt.Errorf("%w: %q must look like <NAME>", ErrInvalidMacroName, name)
	}
	if strings.ContainsAny(name[1:len(name)-1], "<>{}|[] \t\n") {
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidMacroName, name)
	}
	return nil
}

// AddMacro adds or overrides a macro. It returns true when an existing macro
// was overridden.
func (p *Processor) AddMacro(name, value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, existed := p.macros[name]
	p.macros[name] = value
	return existed
}

// RemoveMacro returns true when the macro existed and was removed.
func (p *Processor) RemoveMacro(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, existed := p.macros[name]
	delete(p.macros, name)
	return existed
}

func (p *Processor) HasMacro(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.macros[name]
	return ok
}

// Names returns the registered macro names in sorted order.
func (p *Processor) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.macros))
	for n := range p.macros {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Expand returns every concrete expansion of s, deduplicated and sorted.
func (p *Processor) Expand(s string) ([]string, error) {
	p.mu.RLock()
	snapshot := make(map[string]string, len(p.macros))
	for k, v := range p.macros {
		snapshot[k] = v
	}
	p.mu.RUnlock()

	x := &expander{macros: snapshot}
	alts, err := parse(s)
	if err != nil {
		return nil, err
	}
	raw, err := x.alternatives(alts, nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n := strings.Join(strings.Fields(r), " ")
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

type expander struct {
	macros map[string]string
}

// path holds the macro names currently being expanded on this branch only,
// so sibling references to the same macro are not mistaken for cycles.
func (x *expander) alternatives(alts []seq, path []string) ([]string, error) {
	var out []string
	for _, s := range alts {
		r, err := x.sequence(s, path)
		if err != nil {
			return nil, err
		}
		out = append(out, r...)
		if len(out) > MaxExpansions {
			return nil, ErrTooManyExpansions
		}
	}
	return out, nil
}

func (x *expander) sequence(s seq, path []string) ([]string, error) {
	acc := []string{""}
	for _, n := range s {
		opts, err := x.node(n, path)
		if err != nil {
			return nil, err
		}
		acc, err = cross(acc, opts, "")
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (x *expander) node(n node, path []string) ([]string, error) {
	switch v := n.(type) {
	case textNode:
		return []string{string(v)}, nil
	case refNode:
		for _, seen := range path {
			if seen == v.name {
				chain := append(append([]string{}, path...), v.name)
				return nil, &CyclicMacroError{Chain: chain}
			}
		}
		body, ok := x.macros[v.name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMacro, v.name)
		}
		alts, err := parse(body)
		if err != nil {
			return nil, fmt.Errorf("macro %s: %w", v.name, err)
		}
		next := append(append(make([]string, 0, len(path)+1), path...), v.name)
		r, err := x.alternatives(alts, next)
		if err != nil {
			return nil, err
		}
		// Pad so a reference never glues onto neighbouring text.
		for i := range r {
			r[i] = " " + r[i] + " "
		}
		return r, nil
	case groupNode:
		inner, err := x.alternatives(v.alts, path)
		if err != nil {
			return nil, err
		}
		var out []string
		for k := v.min; k <= v.max; k++ {
			rep := []string{""}
			for i := 0; i < k; i++ {
				rep, err = cross(rep, inner, " ")
				if err != nil {
					return nil, err
				}
			}
			out = append(out, rep...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected macro node %T", n)
	}
}

func cross(left, right []string, sep string) ([]string, error) {
	if len(left)*len(right) > MaxExpansions {
		return nil, ErrTooManyExpansions
	}
	out := make([]string, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			if sep != "" && l != "" && r != "" {
				out = append(out, l+sep+r)
			} else {
				out = append(out, l+r)
			}
		}
	}
	return out, nil
}
