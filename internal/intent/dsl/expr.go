package dsl

// Predicate grammar:
//
//	or      = and { '||' and }
//	and     = unary { '&&' unary }
//	unary   = '!' unary | primary
//	primary = '(' or ')' | 'true' | 'false' | has | operand ('=='|'!=') operand
//	operand = field | string
//	field   = '#' | id | tok_id() | value | tok_value() | text | tok_text()
//	        | groups | tok_groups() | meta('key') | tok_meta('key')

func (p *parser) expr() (Predicate, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	ops := []Predicate{left}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		ops = append(ops, right)
	}
	if len(ops) == 1 {
		return left, nil
	}
	return Or{Operands: ops}, nil
}

func (p *parser) and() (Predicate, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	ops := []Predicate{left}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		ops = append(ops, right)
	}
	if len(ops) == 1 {
		return left, nil
	}
	return And{Operands: ops}, nil
}

func (p *parser) unary() (Predicate, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not{Operand: inner}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Predicate, error) {
	t := p.peek()
	switch {
	case t.kind == tokLParen:
		p.next()
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errAt(t, "unbalanced '('")
		}
		return inner, nil
	case t.kind == tokIdent && (t.text == "true" || t.text == "false"):
		p.next()
		return Const(t.text == "true"), nil
	case t.kind == tokIdent && t.text == "has":
		return p.has()
	case t.kind == tokRBrace || t.kind == tokEOF:
		return nil, p.errAt(t, "empty predicate")
	}
	return p.comparison()
}

// operand is either a field extractor or a string literal.
type operand struct {
	tok     token
	field   Field
	isField bool
	literal string
	list    []string
}

func (p *parser) comparison() (Predicate, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	op := p.next()
	if op.kind != tokEq && op.kind != tokNeq {
		return nil, p.errAt(op, "expected '==' or '!=', found %s", op.describe())
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}

	switch {
	case left.list != nil || right.list != nil:
		return nil, p.errAt(left.tok, "list() may only be used inside has()")
	case left.isField && right.isField:
		return nil, p.errAt(left.tok, "comparison between two fields is not supported")
	case !left.isField && !right.isField:
		return nil, p.errAt(left.tok, "comparison between two literals is always constant")
	}

	field, lit := left, right
	if !left.isField {
		field, lit = right, left
	}
	if field.field.Kind == FieldGroups {
		return nil, p.errAt(field.tok, "tok_groups() is a list; use has(tok_groups(), '...')")
	}
	return Eq{Field: field.field, Value: lit.literal, Negate: op.kind == tokNeq}, nil
}

func (p *parser) has() (Predicate, error) {
	start := p.next()
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	first, err := p.operand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma); err != nil {
		return nil, err
	}
	second, err := p.operand()
	if err != nil {
		return nil, err
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, p.errAt(start, "unbalanced '(' in has()")
	}

	switch {
	case first.isField && first.field.Kind == FieldGroups && !second.isField && second.list == nil:
		return InGroup{Group: second.literal}, nil
	case first.list != nil && second.isField:
		return NewHasOneOf(first.list, second.field), nil
	case first.isField && second.list != nil:
		return NewHasOneOf(second.list, first.field), nil
	}
	return nil, p.errAt(start, "has() expects (tok_groups(), 'group') or (list(...), field)")
}

func (p *parser) operand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return operand{tok: t, literal: t.text}, nil
	case tokPound:
		return operand{tok: t, isField: true, field: Field{Kind: FieldID}}, nil
	case tokIdent:
		return p.fieldOrList(t)
	case tokEOF:
		return operand{}, p.errAt(t, "unexpected end of input in predicate")
	}
	return operand{}, p.errAt(t, "unexpected %s in predicate", t.describe())
}

var fieldNames = map[string]FieldKind{
	"id":         FieldID,
	"tok_id":     FieldID,
	"value":      FieldValue,
	"tok_value":  FieldValue,
	"text":       FieldText,
	"tok_text":   FieldText,
	"groups":     FieldGroups,
	"tok_groups": FieldGroups,
}

func (p *parser) fieldOrList(t token) (operand, error) {
	switch t.text {
	case "list":
		items, err := p.stringArgs(t, 1)
		if err != nil {
			return operand{}, err
		}
		return operand{tok: t, list: items}, nil
	case "meta", "tok_meta":
		args, err := p.stringArgs(t, 1)
		if err != nil {
			return operand{}, err
		}
		if len(args) != 1 {
			return operand{}, p.errAt(t, "%s() takes exactly one key", t.text)
		}
		return operand{tok: t, isField: true, field: Field{Kind: FieldMeta, Key: args[0]}}, nil
	}

	kind, ok := fieldNames[t.text]
	if !ok {
		if p.peek().kind == tokLParen {
			return operand{}, p.errAt(t, "unknown function %q", t.text)
		}
		return operand{}, p.errAt(t, "unknown identifier %q", t.text)
	}
	// Both "id" and "tok_id()" are accepted.
	if p.peek().kind == tokLParen {
		p.next()
		if c := p.next(); c.kind != tokRParen {
			return operand{}, p.errAt(c, "%s() takes no arguments", t.text)
		}
	}
	return operand{tok: t, isField: true, field: Field{Kind: kind}}, nil
}

// stringArgs parses "(s1, s2, ...)" with at least min arguments.
func (p *parser) stringArgs(fn token, min int) ([]string, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	var out []string
	if p.peek().kind != tokRParen {
		for {
			s, err := p.expect(tokString)
			if err != nil {
				return nil, err
			}
			out = append(out, s.text)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, p.errAt(fn, "unbalanced '(' in %s()", fn.text)
	}
	if len(out) < min {
		return nil, p.errAt(fn, "%s() needs at least %d argument(s)", fn.text, min)
	}
	return out, nil
}
