package solver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func compile(t *testing.T, src string) *dsl.Template {
	t.Helper()
	tpl, err := dsl.NewCompiler().Compile(src)
	require.NoError(t, err)
	return tpl
}

func at(id string, start int, groups ...string) models.Entity {
	return models.Entity{ID: id, Groups: groups, Text: id, StartIndex: start, EndIndex: start}
}

func current(entities ...models.Entity) []models.Entity {
	return models.NewVariant(entities...).Entities
}

func recalled(entities ...models.Entity) []models.Entity {
	out := make([]models.Entity, len(entities))
	for i, e := range entities {
		out[i] = e.WithOrigin(models.OriginConversation)
	}
	return out
}

func termIDs(c Candidate) map[string][]string {
	out := map[string][]string{}
	for _, tm := range c.Assignment {
		for _, e := range tm.Entities {
			out[tm.Name] = append(out[tm.Name], e.ID)
		}
	}
	return out
}

const weather = `intent=weather term(ask)~{# == 'wt:ask'} term(city)~{has(tok_groups(), 'geo')}`

// ==========================
// Assignment
// ==========================

func TestMatch_CurrentTurn(t *testing.T) {
	tpl := compile(t, weather)
	entities := current(at("wt:ask", 0), at("geo:city", 2, "geo"))

	got, err := New(0).Match(context.Background(), tpl, 0, entities, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, map[string][]string{"ask": {"wt:ask"}, "city": {"geo:city"}}, termIDs(c))
	assert.Equal(t, Score{
		CurrentTerms: 2, SatisfiedTerms: 2, Mandatory: 2, Specificity: 4, CurrentEntities: 2,
	}, c.Score)
	assert.Equal(t, 1.0, c.Score.Fraction())
}

func TestMatch_ConversationFallback(t *testing.T) {
	tpl := compile(t, weather)
	conv := recalled(at("wt:ask", 0), at("geo:city", 2, "geo"))

	got, err := New(0).Match(context.Background(), tpl, 0, current(at("geo:city", 0, "geo")), conv)
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, map[string][]string{"ask": {"wt:ask"}, "city": {"geo:city"}}, termIDs(c))
	assert.Equal(t, models.OriginConversation, c.Assignment[0].Entities[0].Origin)
	assert.Equal(t, models.OriginCurrent, c.Assignment[1].Entities[0].Origin, "current city wins over the recalled one")
	assert.Equal(t, 1, c.Score.ConversationEntities)
	assert.Equal(t, 1, c.Score.CurrentTerms)
	assert.Equal(t, 0.5, c.Score.Fraction())
}

func TestMatch_ConversationEntitiesAreShared(t *testing.T) {
	tpl := compile(t, `intent=i term(a)~{has(tok_groups(), 'g')} term(b)~{has(tok_groups(), 'g')} term(c)={# == 'x'}`)
	conv := recalled(at("g1", 0, "g"))

	got, err := New(0).Match(context.Background(), tpl, 0, current(at("x", 0)), conv)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string][]string{"a": {"g1"}, "b": {"g1"}, "c": {"x"}}, termIDs(got[0]))
}

func TestMatch_CurrentTurnOnlyTermIgnoresConversation(t *testing.T) {
	tpl := compile(t, `intent=weather term(ask)={# == 'wt:ask'} term(city)~{has(tok_groups(), 'geo')}`)
	conv := recalled(at("wt:ask", 0))

	got, err := New(0).Match(context.Background(), tpl, 0, current(at("geo:city", 0, "geo")), conv)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatch_RequiresCurrentEntity(t *testing.T) {
	tpl := compile(t, weather)
	conv := recalled(at("wt:ask", 0), at("geo:city", 2, "geo"))

	got, err := New(0).Match(context.Background(), tpl, 0, current(at("greeting", 0)), conv)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatch_QuantifierBoundary(t *testing.T) {
	tpl := compile(t, `intent=list term(trigger)={# == 'go'} term(items)={has(tok_groups(), 'item')}[0,3]`)

	for n := 0; n <= 4; n++ {
		entities := current(at("go", 0))
		for i := 0; i < n; i++ {
			entities = append(entities, at("item", i+1, "item").WithOrigin(models.OriginCurrent))
		}

		got, err := New(0).Match(context.Background(), tpl, 0, entities, nil)
		require.NoError(t, err)
		require.NotEmpty(t, got, "n=%d", n)

		best := 0
		for _, c := range got {
			assigned := len(c.Assignment[1].Entities)
			assert.LessOrEqual(t, assigned, 3, "n=%d", n)
			if assigned > best {
				best = assigned
			}
		}
		want := n
		if want > 3 {
			want = 3
		}
		assert.Equal(t, want, best, "n=%d", n)
		assert.Equal(t, want, len(got[0].Assignment[1].Entities), "largest subsets come first")
	}
}

func TestMatch_Ordered(t *testing.T) {
	tpl := compile(t, `intent=route ordered=true term(from)={# == 'from'} term(to)={# == 'to'}`)

	tests := []struct {
		name     string
		entities []models.Entity
		want     int
	}{
		{"declared order", current(at("from", 0), at("to", 3)), 1},
		{"reversed", current(at("to", 0), at("from", 3)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(0).Match(context.Background(), tpl, 0, tt.entities, nil)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	unordered := compile(t, `intent=route term(from)={# == 'from'} term(to)={# == 'to'}`)
	got, err := New(0).Match(context.Background(), unordered, 0, current(at("to", 0), at("from", 3)), nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMatch_EnumeratesAlternatives(t *testing.T) {
	tpl := compile(t, `intent=i term(a)={has(tok_groups(), 'g')} term(b)={has(tok_groups(), 'g')}?`)
	entities := current(at("x", 0, "g"), at("y", 1, "g"))

	got, err := New(0).Match(context.Background(), tpl, 3, entities, nil)
	require.NoError(t, err)

	var seen []map[string][]string
	for _, c := range got {
		assert.Equal(t, 3, c.VariantIndex)
		seen = append(seen, termIDs(c))
	}
	assert.Equal(t, []map[string][]string{
		{"a": {"x"}, "b": {"y"}},
		{"a": {"x"}},
		{"a": {"y"}, "b": {"x"}},
		{"a": {"y"}},
	}, seen)
}

func TestMatch_DoesNotMutateInputs(t *testing.T) {
	tpl := compile(t, weather)
	entities := current(at("geo:city", 0, "geo"), at("geo:city", 1, "geo"))
	conv := recalled(at("wt:ask", 0))

	entitiesBefore := append([]models.Entity(nil), entities...)
	convBefore := append([]models.Entity(nil), conv...)

	_, err := New(0).Match(context.Background(), tpl, 0, entities, conv)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(entitiesBefore, entities))
	assert.Empty(t, cmp.Diff(convBefore, conv))
}

func TestMatch_Deterministic(t *testing.T) {
	tpl := compile(t, `intent=i term(a)={has(tok_groups(), 'g')}+ term(b)~{# == 'z'}`)
	entities := current(at("x", 0, "g"), at("y", 1, "g"), at("w", 2, "g"))
	conv := recalled(at("z", 0))

	first, err := New(0).Match(context.Background(), tpl, 0, entities, conv)
	require.NoError(t, err)
	second, err := New(0).Match(context.Background(), tpl, 0, entities, conv)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Empty(t, cmp.Diff(termIDs(first[i]), termIDs(second[i])))
	}
}

// ==========================
// Budget and cancellation
// ==========================

func manyItems(n int) []models.Entity {
	out := make([]models.Entity, n)
	for i := range out {
		out[i] = at("item", i, "item").WithOrigin(models.OriginCurrent)
	}
	return out
}

func TestMatch_StepBudget(t *testing.T) {
	tpl := compile(t, `intent=bulk term(items)={has(tok_groups(), 'item')}*`)

	_, err := New(50).Match(context.Background(), tpl, 0, manyItems(12), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeoutExceeded))
	assert.Contains(t, err.Error(), "bulk")

	got, err := New(0).Match(context.Background(), tpl, 0, manyItems(3), nil)
	require.NoError(t, err)
	assert.Len(t, got, 7, "every non-empty subset of three items")
}

func TestMatch_ContextCancelled(t *testing.T) {
	tpl := compile(t, `intent=bulk term(items)={has(tok_groups(), 'item')}*`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(1<<20).Match(ctx, tpl, 0, manyItems(14), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatch_PrunesShortPools(t *testing.T) {
	tpl := compile(t, `intent=i term(a)={true}[2,2] term(b)={true}[2,2]`)

	got, err := New(0).Match(context.Background(), tpl, 0, manyItems(3), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ==========================
// Scores and combinations
// ==========================

func TestScore_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Score
		want int
	}{
		{"higher fraction wins", Score{CurrentTerms: 2, SatisfiedTerms: 2}, Score{CurrentTerms: 1, SatisfiedTerms: 2, Mandatory: 9}, 1},
		{"fractions compare exactly", Score{CurrentTerms: 1, SatisfiedTerms: 2}, Score{CurrentTerms: 2, SatisfiedTerms: 4}, 0},
		{"empty counts as zero", Score{}, Score{CurrentTerms: 0, SatisfiedTerms: 3}, 0},
		{"mandatory breaks fraction tie", Score{CurrentTerms: 1, SatisfiedTerms: 1, Mandatory: 1}, Score{CurrentTerms: 2, SatisfiedTerms: 2, Mandatory: 2}, -1},
		{"specificity last", Score{CurrentTerms: 1, SatisfiedTerms: 1, Mandatory: 1, Specificity: 3}, Score{CurrentTerms: 1, SatisfiedTerms: 1, Mandatory: 1, Specificity: 1}, 1},
		{"secondary keys ignored", Score{CurrentEntities: 5}, Score{CurrentEntities: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
		})
	}
}

func TestScore_CompareWithin(t *testing.T) {
	base := Score{CurrentTerms: 1, SatisfiedTerms: 1, Mandatory: 1}

	more := base
	more.CurrentEntities = 3
	fewer := base
	fewer.CurrentEntities = 2
	assert.Equal(t, 1, more.CompareWithin(fewer))

	lessRecall := fewer
	moreRecall := fewer
	moreRecall.ConversationEntities = 1
	assert.Equal(t, 1, lessRecall.CompareWithin(moreRecall))
	assert.Equal(t, 0, base.CompareWithin(base))
}

func TestCombinations(t *testing.T) {
	var got [][]int
	err := combinations(4, 2, func(pick []int) error {
		got = append(got, append([]int(nil), pick...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}, got)

	calls := 0
	require.NoError(t, combinations(3, 0, func([]int) error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	require.NoError(t, combinations(2, 3, func([]int) error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}
