package dsl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-engine/internal/models"
)

// ==========================
// Compile: happy paths
// ==========================

func TestCompile_Basic(t *testing.T) {
	c := NewCompiler()
	tpl, err := c.Compile(`intent=weather term(ask)~{# == 'wt:ask'} term(city)~{has(tok_groups(), 'geo')}?`)
	require.NoError(t, err)

	assert.Equal(t, "weather", tpl.ID)
	require.Len(t, tpl.Terms, 2)
	assert.True(t, tpl.Conversational)
	assert.False(t, tpl.Ordered)

	ask := tpl.Terms[0]
	assert.Equal(t, "ask", ask.Name)
	assert.Equal(t, 0, ask.Index)
	assert.Equal(t, 1, ask.Min)
	assert.Equal(t, 1, ask.Max)
	assert.True(t, ask.Conversational)
	assert.Equal(t, Eq{Field: Field{Kind: FieldID}, Value: "wt:ask"}, ask.Predicate)

	city, ok := tpl.Term("city")
	require.True(t, ok)
	assert.True(t, city.Optional())
	assert.Equal(t, InGroup{Group: "geo"}, city.Predicate)
	assert.Equal(t, 1, tpl.MandatoryCount())
	assert.Equal(t, []string{"ask", "city"}, tpl.TermNames())
}

func TestCompile_Quantifiers(t *testing.T) {
	tests := []struct {
		name     string
		quant    string
		min, max int
	}{
		{"default", "", 1, 1},
		{"optional", "?", 0, 1},
		{"star", "*", 0, Unbounded},
		{"plus", "+", 1, Unbounded},
		{"range", "[2,5]", 2, 5},
		{"zero min range", "[0,3]", 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := NewCompiler().Compile("intent=i term={# == 'x'}" + tt.quant)
			require.NoError(t, err)
			assert.Equal(t, tt.min, tpl.Terms[0].Min)
			assert.Equal(t, tt.max, tpl.Terms[0].Max)
		})
	}
}

func TestCompile_Options(t *testing.T) {
	tpl, err := NewCompiler().Compile(`intent=i ordered=true conv=false term(a)~{# == 'a'} term(b)~{# == 'b'}`)
	require.NoError(t, err)

	assert.True(t, tpl.Ordered)
	assert.False(t, tpl.Conversational)
	for _, term := range tpl.Terms {
		assert.True(t, term.Ordered, term.Label())
		assert.False(t, term.Conversational, term.Label())
	}
}

func TestCompile_FlowOption(t *testing.T) {
	tpl, err := NewCompiler().Compile(`intent=i flow='^greet( greet)*$' term={# == 'a'}`)
	require.NoError(t, err)
	require.NotNil(t, tpl.Flow)

	tests := []struct {
		name string
		flow []string
		want bool
	}{
		{"empty flow", nil, false},
		{"one greeting", []string{"greet"}, true},
		{"repeated greetings", []string{"greet", "greet"}, true},
		{"other intent last", []string{"greet", "weather"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tpl.FlowMatches(tt.flow))
		})
	}

	plain := NewCompiler().MustCompile(`intent=j term={# == 'a'}`)
	assert.True(t, plain.FlowMatches(nil))
	assert.True(t, plain.FlowMatches([]string{"anything"}))
}

func TestCompile_CurrentTurnOnlyTerm(t *testing.T) {
	tpl, err := NewCompiler().Compile(`intent=i term(a)={# == 'a'} term(b)~{# == 'b'}`)
	require.NoError(t, err)
	assert.False(t, tpl.Terms[0].Conversational)
	assert.True(t, tpl.Terms[1].Conversational)
}

func TestCompile_AnonymousTermsAndComments(t *testing.T) {
	src := "intent=i // greeting\nterm={# == 'hello'}\nterm={# == 'world'}?"
	tpl, err := NewCompiler().Compile(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"#0", "#1"}, tpl.TermNames())
}

func TestCompile_Predicates(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Predicate
	}{
		{"pound", `# == 'a'`, Eq{Field: Field{Kind: FieldID}, Value: "a"}},
		{"tok_id reversed", `'a' == tok_id()`, Eq{Field: Field{Kind: FieldID}, Value: "a"}},
		{"not equal", `id != 'a'`, Eq{Field: Field{Kind: FieldID}, Value: "a", Negate: true}},
		{"value", `tok_value() == 'x'`, Eq{Field: Field{Kind: FieldValue}, Value: "x"}},
		{"text", `text == "Moscow"`, Eq{Field: Field{Kind: FieldText}, Value: "Moscow"}},
		{"meta", `meta('unit') == 'C'`, Eq{Field: Field{Kind: FieldMeta, Key: "unit"}, Value: "C"}},
		{"group", `has(tok_groups(), 'geo')`, InGroup{Group: "geo"}},
		{"list", `has(list('a', 'b'), tok_id())`, NewHasOneOf([]string{"a", "b"}, Field{Kind: FieldID})},
		{"const", `true`, Const(true)},
		{"not", `!(# == 'a')`, Not{Operand: Eq{Field: Field{Kind: FieldID}, Value: "a"}}},
		{
			"precedence",
			`# == 'a' || # == 'b' && has(groups, 'g')`,
			Or{Operands: []Predicate{
				Eq{Field: Field{Kind: FieldID}, Value: "a"},
				And{Operands: []Predicate{
					Eq{Field: Field{Kind: FieldID}, Value: "b"},
					InGroup{Group: "g"},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := NewCompiler().Compile("intent=i term={" + tt.expr + "}")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tpl.Terms[0].Predicate)
		})
	}
}

// ==========================
// Compile: errors
// ==========================

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"min greater than max", `intent=i term={# == 'a'}[3,1]`, "greater than max"},
		{"zero max", `intent=i term={# == 'a'}[0,0]`, "at least 1"},
		{"extra closing brace", `intent=i term(list)~{# == 'id2'}}[0,7]`, "unbalanced '}'"},
		{"unclosed brace", `intent=i term={# == 'a'`, "unbalanced '{'"},
		{"unclosed bracket", `intent=i term={# == 'a'}[1,2`, "unbalanced quantifier"},
		{"stray bracket", `intent=i term={# == 'a'}]`, "unbalanced quantifier"},
		{"unknown function", `intent=i term={foo() == 'a'}`, "unknown function"},
		{"unknown token", `intent=i term={# == 'a'} $`, "unknown token"},
		{"unterminated string", `intent=i term={# == 'a}`, "unterminated string"},
		{"duplicate term", `intent=i term(a)={# == 'a'} term(a)={# == 'b'}`, "duplicate term name"},
		{"missing id", `intent=`, "expected identifier"},
		{"no terms", `intent=i`, "at least one term"},
		{"not an intent", `term={# == 'a'}`, "expected 'intent'"},
		{"two literals", `intent=i term={'a' == 'b'}`, "two literals"},
		{"two fields", `intent=i term={# == tok_value()}`, "two fields"},
		{"groups equality", `intent=i term={tok_groups() == 'g'}`, "is a list"},
		{"empty predicate", `intent=i term={}`, "empty predicate"},
		{"unknown fragment", `intent=i fragment(nope)`, "unknown fragment"},
		{"bad option", `intent=i ordered=maybe term={# == 'a'}`, "expects true or false"},
		{"bad has", `intent=i term={has(tok_id(), 'a')}`, "has() expects"},
		{"flow not a string", `intent=i flow=greet term={# == 'a'}`, "quoted regular expression"},
		{"bad flow expression", `intent=i flow='(greet' term={# == 'a'}`, "invalid flow expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCompiler().Compile(tt.src)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "want *CompileError, got %T", err)
			assert.Contains(t, ce.Msg, tt.wantMsg)
			assert.GreaterOrEqual(t, ce.Pos, 0)
			assert.LessOrEqual(t, ce.Pos, len(tt.src))
		})
	}
}

func TestCompileError_Diagnostic(t *testing.T) {
	src := "intent=i\nterm={# == 'a'}[3,1]"
	_, err := NewCompiler().Compile(src)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))

	d := ce.Diagnostic()
	assert.Contains(t, d, "line 2")
	assert.Contains(t, d, "term={# == 'a'}[3,1]")
	assert.Contains(t, ce.Error(), "intent DSL error at position")
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { NewCompiler().MustCompile("intent=") })
}

// ==========================
// Fragments
// ==========================

func TestFragments(t *testing.T) {
	c := NewCompiler()
	name, err := c.AddFragment(`fragment=city term(city)~{has(tok_groups(), 'geo')} term(date)~{# == 'date'}?`)
	require.NoError(t, err)
	assert.Equal(t, "city", name)

	tpl, err := c.Compile(`intent=weather term(ask)={# == 'wt:ask'} fragment(city)`)
	require.NoError(t, err)
	require.Len(t, tpl.Terms, 3)
	assert.Equal(t, []string{"ask", "city", "date"}, tpl.TermNames())
	assert.Equal(t, 2, tpl.Terms[2].Index)

	// A second intent gets independent term copies.
	other, err := c.Compile(`intent=forecast conv=false fragment(city)`)
	require.NoError(t, err)
	assert.Equal(t, 0, other.Terms[0].Index)
	assert.False(t, other.Terms[0].Conversational)
	assert.True(t, tpl.Terms[1].Conversational)

	_, err = c.AddFragment(`fragment=city term={# == 'x'}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate fragment")

	_, err = c.Compile(`intent=dup term(city)={# == 'x'} fragment(city)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate term name")
}

// ==========================
// Predicates
// ==========================

func TestPredicate_Eval(t *testing.T) {
	moscow := models.Entity{
		ID: "geo:city", Groups: []string{"geo"}, Value: "moscow", Text: "Moscow",
		Meta: map[string]interface{}{"population": 12000000},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"id match", `# == 'geo:city'`, true},
		{"id mismatch", `# == 'geo:country'`, false},
		{"id negated", `# != 'geo:country'`, true},
		{"group", `has(tok_groups(), 'geo')`, true},
		{"id is implicit group", `has(tok_groups(), 'geo:city')`, true},
		{"missing group", `has(tok_groups(), 'time')`, false},
		{"list", `has(list('geo:country', 'geo:city'), #)`, true},
		{"list of groups", `has(list('x', 'geo'), tok_groups())`, true},
		{"meta", `meta('population') == '12000000'`, true},
		{"missing meta", `meta('area') == '1'`, false},
		{"and", `# == 'geo:city' && value == 'moscow'`, true},
		{"or", `# == 'x' || text == 'Moscow'`, true},
		{"not", `!has(tok_groups(), 'geo')`, false},
		{"false", `false`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := NewCompiler().Compile("intent=i term={" + tt.expr + "}")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tpl.Terms[0].Predicate.Eval(moscow))
		})
	}
}

func TestPredicate_Specificity(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want int
	}{
		{"id equality", `# == 'a'`, 3},
		{"value equality", `value == 'a'`, 2},
		{"negated", `# != 'a'`, 0},
		{"group", `has(tok_groups(), 'g')`, 1},
		{"single id list", `has(list('a'), #)`, 3},
		{"multi id list", `has(list('a', 'b'), #)`, 2},
		{"group list", `has(list('a', 'b'), tok_groups())`, 1},
		{"and sums", `# == 'a' && has(tok_groups(), 'g')`, 4},
		{"or takes weakest", `# == 'a' || has(tok_groups(), 'g')`, 1},
		{"not", `!(# == 'a')`, 0},
		{"const", `true`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := NewCompiler().Compile("intent=i term={" + tt.expr + "}")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tpl.Terms[0].Predicate.Specificity())
		})
	}
}

func TestGroups(t *testing.T) {
	tpl, err := NewCompiler().Compile(`intent=i term={has(tok_groups(), 'b') || (has(tok_groups(), 'a') && !has(tok_groups(), 'b'))}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, Groups(tpl.Terms[0].Predicate))
}

func TestTemplate_StringRoundTrip(t *testing.T) {
	c := NewCompiler()
	tpl := c.MustCompile(`intent=i term(a)~{# == 'a'}[2,4] term={has(tok_groups(), 'g')}*`)

	again, err := NewCompiler().Compile(tpl.String())
	require.NoError(t, err)
	assert.Equal(t, tpl.String(), again.String())
}

func TestTemplate_StringRoundTripFlow(t *testing.T) {
	tpl := NewCompiler().MustCompile(`intent=i flow='it\'s\\d' term={# == 'a'}`)
	assert.Equal(t, `it's\d`, tpl.Flow.String())

	again, err := NewCompiler().Compile(tpl.String())
	require.NoError(t, err)
	assert.Equal(t, tpl.Flow.String(), again.Flow.String())
	assert.Equal(t, tpl.String(), again.String())
}

func TestTemplate_WithOrder(t *testing.T) {
	tpl := NewCompiler().MustCompile(`intent=i term={# == 'a'}`)
	ordered := tpl.WithOrder(7)
	assert.Equal(t, 7, ordered.Order)
	assert.Equal(t, 0, tpl.Order)
}
