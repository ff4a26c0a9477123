package macro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Registry Tests
// ==========================

func TestProcessor_AddRemoveHas(t *testing.T) {
	p := NewProcessor()

	assert.False(t, p.HasMacro("<A>"))
	assert.False(t, p.AddMacro("<A>", "a"), "first add is not an override")
	assert.True(t, p.HasMacro("<A>"))
	assert.True(t, p.AddMacro("<A>", "b"), "second add overrides")

	assert.True(t, p.RemoveMacro("<A>"))
	assert.False(t, p.RemoveMacro("<A>"))
	assert.False(t, p.HasMacro("<A>"))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"<COLOR>", false},
		{"<wt:ask>", false},
		{"COLOR", true},
		{"<>", true},
		{"<A B>", true},
		{"<A|B>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMacroName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ==========================
// Expansion Tests
// ==========================

func TestProcessor_Expand(t *testing.T) {
	p := NewProcessor()
	p.AddMacro("<COLOR>", "red|green")
	p.AddMacro("<SIZE>", "{big|small|_}")
	p.AddMacro("<ITEM>", "<SIZE> <COLOR> ball")

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"plain text", "hello   world", []string{"hello world"}},
		{"top-level alternation", "a|b|c", []string{"a", "b", "c"}},
		{"group", "light {on|off}", []string{"light off", "light on"}},
		{"empty alternative", "{turn|_} on", []string{"on", "turn on"}},
		{"macro reference", "<COLOR>", []string{"green", "red"}},
		{"cartesian", "<COLOR> {car|bike}", []string{"green bike", "green car", "red bike", "red car"}},
		{"nested macros", "<ITEM>", []string{
			"big green ball", "big red ball", "green ball", "red ball", "small green ball", "small red ball",
		}},
		{"repetition", "{a}[1,3]", []string{"a", "a a", "a a a"}},
		{"optional repetition", "x {y}[0,1]", []string{"x", "x y"}},
		{"duplicates collapse", "{a|a} b", []string{"a b"}},
		{"escape stays in the expansion", `a\|b`, []string{`a\|b`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Expand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestProcessor_Expand_Idempotent(t *testing.T) {
	p := NewProcessor()
	p.AddMacro("<A>", "{x|y} <B>")
	p.AddMacro("<B>", "one|two|{three|_}")
	p.AddMacro("<OP>", `a\|b|c\{d\}|\<x\>|\_|back\\slash`)

	inputs := []string{"<A>", "<A> and <B>", "{<A>|<B>}[1,2]", "weather {in|at|_} <B>", "<OP>", "{<OP>}[1,2]"}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first, err := p.Expand(in)
			require.NoError(t, err)
			require.NotEmpty(t, first)

			for _, s := range first {
				again, err := p.Expand(s)
				require.NoError(t, err)
				assert.Equal(t, []string{s}, again)
			}
		})
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`a\|b`, "a|b"},
		{`\{x\}`, "{x}"},
		{`back\\slash`, `back\slash`},
		{`\_`, "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Unescape(tt.in))
		})
	}
}

func TestProcessor_Expand_EscapedUnderscoreIsText(t *testing.T) {
	p := NewProcessor()
	got, err := p.Expand(`{\_|x}`)
	require.NoError(t, err)
	assert.Equal(t, []string{`\_`, "x"}, got)
}

func TestProcessor_Expand_SameMacroTwiceIsNotACycle(t *testing.T) {
	p := NewProcessor()
	p.AddMacro("<N>", "1|2")

	got, err := p.Expand("<N> <N>")
	require.NoError(t, err)
	assert.Equal(t, []string{"1 1", "1 2", "2 1", "2 2"}, got)
}

// ==========================
// Error Tests
// ==========================

func TestProcessor_Expand_Cycles(t *testing.T) {
	tests := []struct {
		name   string
		macros map[string]string
		input  string
		chain  []string
	}{
		{
			name:   "self reference",
			macros: map[string]string{"<A>": "x <A>"},
			input:  "<A>",
			chain:  []string{"<A>", "<A>"},
		},
		{
			name:   "transitive",
			macros: map[string]string{"<A>": "<B>", "<B>": "{y|<A>}"},
			input:  "<A>",
			chain:  []string{"<A>", "<B>", "<A>"},
		},
		{
			name:   "three hops",
			macros: map[string]string{"<A>": "<B>", "<B>": "<C>", "<C>": "c|<A>"},
			input:  "start <A>",
			chain:  []string{"<A>", "<B>", "<C>", "<A>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor()
			for k, v := range tt.macros {
				p.AddMacro(k, v)
			}

			_, err := p.Expand(tt.input)
			require.Error(t, err)

			var cyc *CyclicMacroError
			require.True(t, errors.As(err, &cyc))
			assert.Equal(t, tt.chain, cyc.Chain)
		})
	}
}

func TestProcessor_Expand_Errors(t *testing.T) {
	p := NewProcessor()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, err error)
	}{
		{"unknown macro", "<NOPE>", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnknownMacro)
		}},
		{"unclosed group", "{a|b", func(t *testing.T, err error) {
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		}},
		{"stray brace", "a}", func(t *testing.T, err error) {
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		}},
		{"unclosed reference", "<A", func(t *testing.T, err error) {
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		}},
		{"escaped whitespace", `a\ b`, func(t *testing.T, err error) {
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		}},
		{"bad repetition", "{a}[3,1]", func(t *testing.T, err error) {
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Expand(tt.input)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestProcessor_Expand_TooMany(t *testing.T) {
	p := NewProcessor()
	p.AddMacro("<D>", "0|1|2|3|4|5|6|7|8|9")

	_, err := p.Expand("<D><D><D><D><D>")
	assert.ErrorIs(t, err, ErrTooManyExpansions)
}
