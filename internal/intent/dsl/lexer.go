package dsl

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokAssign // =
	tokEq     // ==
	tokNeq    // !=
	tokTilde  // ~
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokQuestion
	tokStar
	tokPlus
	tokNot
	tokAnd
	tokOr
	tokPound
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of input",
	tokIdent:    "identifier",
	tokInt:      "integer",
	tokString:   "string",
	tokAssign:   "'='",
	tokEq:       "'=='",
	tokNeq:      "'!='",
	tokTilde:    "'~'",
	tokLBrace:   "'{'",
	tokRBrace:   "'}'",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokLBracket: "'['",
	tokRBracket: "']'",
	tokComma:    "','",
	tokQuestion: "'?'",
	tokStar:     "'*'",
	tokPlus:     "'+'",
	tokNot:      "'!'",
	tokAnd:      "'&&'",
	tokOr:       "'||'",
	tokPound:    "'#'",
}

func (k tokenKind) String() string {
	if n, ok := tokenNames[k]; ok {
		return n
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) describe() string {
	switch t.kind {
	case tokIdent, tokInt:
		return fmt.Sprintf("%q", t.text)
	case tokString:
		return fmt.Sprintf("string '%s'", t.text)
	default:
		return t.kind.String()
	}
}

var twoCharOps = map[string]tokenKind{
	"==": tokEq,
	"!=": tokNeq,
	"&&": tokAnd,
	"||": tokOr,
}

var oneCharOps = map[byte]tokenKind{
	'=': tokAssign,
	'~': tokTilde,
	'{': tokLBrace,
	'}': tokRBrace,
	'(': tokLParen,
	')': tokRParen,
	'[': tokLBracket,
	']': tokRBracket,
	',': tokComma,
	'?': tokQuestion,
	'*': tokStar,
	'+': tokPlus,
	'!': tokNot,
	'#': tokPound,
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			// Line comment.
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '\'' || c == '"':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == c {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, newCompileError(src, start, "unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokInt, text: src[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			if i+1 < len(src) {
				if k, ok := twoCharOps[src[i:i+2]]; ok {
					toks = append(toks, token{kind: k, text: src[i : i+2], pos: i})
					i += 2
					continue
				}
			}
			if k, ok := oneCharOps[c]; ok {
				toks = append(toks, token{kind: k, text: string(c), pos: i})
				i++
				continue
			}
			return nil, newCompileError(src, i, fmt.Sprintf("unknown token %q", string(c)))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == ':' || c == '.' || c == '-'
}
