package macro

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type node interface{}

type textNode string

type refNode struct {
	name string
	pos  int
}

type groupNode struct {
	alts     []seq
	min, max int
}

type seq []node

// SyntaxError reports malformed macro text.
type SyntaxError struct {
	Pos int
	Msg string
	Src string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("macro syntax error at position %d: %s in %q", e.Pos, e.Msg, e.Src)
}

type parser struct {
	src string
	pos int
}

func parse(src string) ([]seq, error) {
	p := &parser{src: src}
	alts, err := p.alternatives(0)
	if err != nil {
		return nil, err
	}
	return alts, nil
}

func (p *parser) errorf(pos int, format string, args ...interface{}) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...), Src: p.src}
}

// alternatives reads '|'-separated sequences until the closing byte.
// A zero closing byte means end of input.
func (p *parser) alternatives(closing byte) ([]seq, error) {
	var (
		alts []seq
		cur  seq
		buf  strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			cur = append(cur, textNode(buf.String()))
			buf.Reset()
		}
	}
	finish := func() {
		flush()
		alts = append(alts, normalizeEmpty(cur))
		cur = nil
	}
	start := p.pos

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return nil, p.errorf(p.pos, "dangling escape")
			}
			if unicode.IsSpace(rune(p.src[p.pos+1])) {
				return nil, p.errorf(p.pos, "whitespace cannot be escaped")
			}
			// Escapes stay in the text so expansions parse back to themselves.
			buf.WriteString(p.src[p.pos : p.pos+2])
			p.pos += 2
		case '<':
			flush()
			end := strings.IndexByte(p.src[p.pos:], '>')
			if end < 0 {
				return nil, p.errorf(p.pos, "unclosed macro reference")
			}
			name := p.src[p.pos : p.pos+end+1]
			if err := ValidateName(name); err != nil {
				return nil, p.errorf(p.pos, "%v", err)
			}
			cur = append(cur, refNode{name: name, pos: p.pos})
			p.pos += end + 1
		case '{':
			flush()
			open := p.pos
			p.pos++
			inner, err := p.alternatives('}')
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != '}' {
				return nil, p.errorf(open, "unclosed '{'")
			}
			p.pos++
			min, max, err := p.repetition()
			if err != nil {
				return nil, err
			}
			cur = append(cur, groupNode{alts: inner, min: min, max: max})
		case '}':
			if closing != '}' {
				return nil, p.errorf(p.pos, "unexpected '}'")
			}
			finish()
			return alts, nil
		case '|':
			finish()
			p.pos++
		case '[', ']':
			return nil, p.errorf(p.pos, "unexpected '%c'", c)
		default:
			buf.WriteByte(c)
			p.pos++
		}
	}

	if closing != 0 {
		return nil, p.errorf(start-1, "unclosed '{'")
	}
	finish()
	return alts, nil
}

// repetition parses an optional "[m,n]" suffix after a group.
func (p *parser) repetition() (int, int, error) {
	if p.pos >= len(p.src) || p.src[p.pos] != '[' {
		return 1, 1, nil
	}
	open := p.pos
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return 0, 0, p.errorf(open, "unbalanced '['")
	}
	body := p.src[p.pos+1 : p.pos+end]
	p.pos += end + 1

	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return 0, 0, p.errorf(open, "repetition must be [min,max]")
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	max, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, p.errorf(open, "repetition bounds must be integers")
	}
	if min < 0 || max < 1 || min > max {
		return 0, 0, p.errorf(open, "invalid repetition [%d,%d]", min, max)
	}
	return min, max, nil
}

// Unescape removes macro escapes from an expansion, giving the plain text.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// normalizeEmpty turns the "_" placeholder alternative into an empty sequence.
func normalizeEmpty(s seq) seq {
	if len(s) == 1 {
		if t, ok := s[0].(textNode); ok && strings.TrimSpace(string(t)) == "_" {
			return seq{}
		}
	}
	return s
}
