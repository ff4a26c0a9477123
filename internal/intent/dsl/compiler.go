// Package dsl compiles the intent definition language into immutable
// templates.
//
//	intent=weather ordered=false term(ask)~{# == 'wt:ask'} term(city)~{has(tok_groups(), 'geo')}?
//
// '=' terms accept current-turn entities only, '~' terms may also be filled
// from conversation memory. flow='<regexp>' restricts an intent to sessions
// whose earlier intent ids, joined by spaces, match the expression.
package dsl

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
)

// Compiler turns DSL text into templates. It owns the fragment table.
type Compiler struct {
	mu        sync.RWMutex
	fragments map[string][]*Term
}

func NewCompiler() *Compiler {
	return &Compiler{fragments: make(map[string][]*Term)}
}

// AddFragment compiles "fragment=<name> term..." and registers it for
// fragment(<name>) references in later intents.
func (c *Compiler) AddFragment(text string) (string, error) {
	p, err := c.newParser(text)
	if err != nil {
		return "", err
	}
	if err := p.keyword("fragment"); err != nil {
		return "", err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return "", err
	}
	nameTok, err := p.expect(tokIdent)
	if err != nil {
		return "", err
	}
	terms, err := p.items()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.fragments[nameTok.text]; dup {
		return "", newCompileError(text, nameTok.pos, fmt.Sprintf("duplicate fragment %q", nameTok.text))
	}
	c.fragments[nameTok.text] = terms
	return nameTok.text, nil
}

// Compile parses one intent definition.
func (c *Compiler) Compile(text string) (*Template, error) {
	p, err := c.newParser(text)
	if err != nil {
		return nil, err
	}
	if err := p.keyword("intent"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return nil, err
	}
	idTok, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}

	tpl := &Template{ID: idTok.text, Conversational: true, Source: text}
	if err := p.options(tpl); err != nil {
		return nil, err
	}

	terms, err := p.items()
	if err != nil {
		return nil, err
	}
	for i, t := range terms {
		t.Index = i
		if !tpl.Conversational {
			t.Conversational = false
		}
		t.Ordered = tpl.Ordered
	}
	tpl.Terms = terms
	return tpl, nil
}

// MustCompile is Compile for statically known definitions; it panics on error.
func (c *Compiler) MustCompile(text string) *Template {
	t, err := c.Compile(text)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	c    *Compiler
	src  string
	toks []token
	i    int
}

func (c *Compiler) newParser(text string) (*parser, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	return &parser{c: c, src: text, toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.i] }
func (p *parser) peekAt(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errAt(t token, format string, args ...interface{}) *CompileError {
	return newCompileError(p.src, t.pos, fmt.Sprintf(format, args...))
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errAt(t, "expected %s, found %s", kind, t.describe())
	}
	return t, nil
}

func (p *parser) keyword(word string) error {
	t := p.next()
	if t.kind != tokIdent || t.text != word {
		return p.errAt(t, "expected '%s', found %s", word, t.describe())
	}
	return nil
}

func (p *parser) options(tpl *Template) error {
	for {
		t := p.peek()
		if t.kind != tokIdent || !isOption(t.text) || p.peekAt(1).kind != tokAssign {
			return nil
		}
		p.next()
		p.next()
		v := p.next()

		if t.text == "flow" {
			if v.kind != tokString {
				return p.errAt(v, "option 'flow' expects a quoted regular expression, found %s", v.describe())
			}
			re, err := regexp.Compile(v.text)
			if err != nil {
				return p.errAt(v, "invalid flow expression: %v", err)
			}
			tpl.Flow = re
			continue
		}

		if v.kind != tokIdent || (v.text != "true" && v.text != "false") {
			return p.errAt(v, "option '%s' expects true or false, found %s", t.text, v.describe())
		}
		switch t.text {
		case "ordered":
			tpl.Ordered = v.text == "true"
		case "conv":
			tpl.Conversational = v.text == "true"
		}
	}
}

func isOption(name string) bool {
	return name == "ordered" || name == "conv" || name == "flow"
}

// items parses terms and fragment references up to end of input.
func (p *parser) items() ([]*Term, error) {
	var terms []*Term
	names := map[string]bool{}
	add := func(t *Term) error {
		if t.Name != "" {
			if names[t.Name] {
				return newCompileError(p.src, t.Pos, fmt.Sprintf("duplicate term name %q", t.Name))
			}
			names[t.Name] = true
		}
		terms = append(terms, t)
		return nil
	}

	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			if len(terms) == 0 {
				return nil, p.errAt(t, "at least one term is required")
			}
			return terms, nil
		case t.kind == tokIdent && t.text == "term":
			term, err := p.term()
			if err != nil {
				return nil, err
			}
			if err := add(term); err != nil {
				return nil, err
			}
		case t.kind == tokIdent && t.text == "fragment":
			frag, err := p.fragmentRef()
			if err != nil {
				return nil, err
			}
			for _, ft := range frag {
				cp := *ft
				cp.Pos = t.pos
				if err := add(&cp); err != nil {
					return nil, err
				}
			}
		case t.kind == tokRBrace:
			return nil, p.errAt(t, "unbalanced '}'")
		case t.kind == tokRBracket || t.kind == tokLBracket:
			return nil, p.errAt(t, "unbalanced quantifier brackets")
		default:
			return nil, p.errAt(t, "unexpected %s, expected 'term' or 'fragment'", t.describe())
		}
	}
}

func (p *parser) fragmentRef() ([]*Term, error) {
	p.next()
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	p.c.mu.RLock()
	terms, ok := p.c.fragments[name.text]
	p.c.mu.RUnlock()
	if !ok {
		return nil, p.errAt(name, "unknown fragment %q", name.text)
	}
	return terms, nil
}

func (p *parser) term() (*Term, error) {
	start := p.next()
	term := &Term{Pos: start.pos, Min: 1, Max: 1}

	if p.peek().kind == tokLParen {
		p.next()
		name, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		term.Name = name.text
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
	}

	switch op := p.next(); op.kind {
	case tokAssign:
	case tokTilde:
		term.Conversational = true
	default:
		return nil, p.errAt(op, "expected '=' or '~' after term, found %s", op.describe())
	}

	open, err := p.expect(tokLBrace)
	if err != nil {
		return nil, err
	}
	pred, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokRBrace {
		if t.kind == tokEOF {
			return nil, p.errAt(open, "unbalanced '{'")
		}
		return nil, p.errAt(t, "unexpected %s in predicate", t.describe())
	}
	p.next()
	term.Predicate = pred

	if err := p.quantifier(term); err != nil {
		return nil, err
	}
	return term, nil
}

func (p *parser) quantifier(term *Term) error {
	switch t := p.peek(); t.kind {
	case tokQuestion:
		p.next()
		term.Min, term.Max = 0, 1
	case tokStar:
		p.next()
		term.Min, term.Max = 0, Unbounded
	case tokPlus:
		p.next()
		term.Min, term.Max = 1, Unbounded
	case tokLBracket:
		p.next()
		min, err := p.bound(t)
		if err != nil {
			return err
		}
		if _, err := p.expect(tokComma); err != nil {
			return err
		}
		max, err := p.bound(t)
		if err != nil {
			return err
		}
		if end := p.next(); end.kind != tokRBracket {
			return p.errAt(t, "unbalanced quantifier brackets")
		}
		if min > max {
			return p.errAt(t, "quantifier min %d is greater than max %d", min, max)
		}
		if max < 1 {
			return p.errAt(t, "quantifier max must be at least 1")
		}
		term.Min, term.Max = min, max
	case tokRBracket:
		return p.errAt(t, "unbalanced quantifier brackets")
	}
	return nil
}

func (p *parser) bound(open token) (int, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return 0, p.errAt(t, "invalid quantifier %q", t.text)
		}
		return n, nil
	case tokEOF:
		return 0, p.errAt(open, "unbalanced quantifier brackets")
	default:
		return 0, p.errAt(t, "expected integer quantifier, found %s", t.describe())
	}
}
