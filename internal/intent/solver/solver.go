// Package solver assigns the entities of one sentence variant to the terms
// of one intent template.
//
// The search walks the terms in declared order. For each term it collects
// the unused current-turn entities accepted by the predicate (recalled
// entities join the pool when the term is conversation-eligible and the
// current pool is short of Min), then tries every subset of size Max down to
// Min and recurses. Recalled entities are shared evidence and are never
// consumed. Every complete assignment that uses at least one current-turn
// entity is a Candidate.
package solver

import (
	"context"
	"errors"
	"fmt"

	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/models"
)

// DefaultStepBudget bounds the search nodes visited per template and variant.
const DefaultStepBudget = 100000

var ErrTimeoutExceeded = errors.New("TIMEOUT_EXCEEDED")

// TermMatch is the entities assigned to one term.
type TermMatch struct {
	Term     *dsl.Term       `json:"-"`
	Name     string          `json:"term"`
	Entities []models.Entity `json:"entities"`
}

// Candidate is one complete assignment of a template.
type Candidate struct {
	Template     *dsl.Template
	VariantIndex int
	Assignment   []TermMatch
	Score        Score
}

// Entities flattens the assignment in term order.
func (c *Candidate) Entities() []models.Entity {
	var out []models.Entity
	for _, tm := range c.Assignment {
		out = append(out, tm.Entities...)
	}
	return out
}

type Solver struct {
	stepBudget int
}

func New(stepBudget int) *Solver {
	if stepBudget <= 0 {
		stepBudget = DefaultStepBudget
	}
	return &Solver{stepBudget: stepBudget}
}

// Match returns every assignment of tpl over the variant's entities, in
// enumeration order. conv is the session memory, most recent first. Neither
// slice is modified.
func (s *Solver) Match(ctx context.Context, tpl *dsl.Template, variantIndex int, entities, conv []models.Entity) ([]Candidate, error) {
	st := &search{
		ctx:          ctx,
		tpl:          tpl,
		variantIndex: variantIndex,
		entities:     entities,
		conv:         conv,
		used:         make([]bool, len(entities)),
		chosen:       make([][]ref, len(tpl.Terms)),
		budget:       s.stepBudget,
		suffixMin:    make([]int, len(tpl.Terms)+1),
		mandatory:    tpl.MandatoryCount(),
	}
	for i := len(tpl.Terms) - 1; i >= 0; i-- {
		st.suffixMin[i] = st.suffixMin[i+1]
		if t := tpl.Terms[i]; !t.Conversational {
			st.suffixMin[i] += t.Min
		}
	}

	if err := st.walk(0, -1, len(entities)); err != nil {
		if errors.Is(err, ErrTimeoutExceeded) {
			return nil, fmt.Errorf("%w: intent %s after %d steps", ErrTimeoutExceeded, tpl.ID, st.steps)
		}
		return nil, err
	}
	return st.out, nil
}

// ref points at an entity in either the variant or the conversation.
type ref struct {
	idx  int
	conv bool
}

type search struct {
	ctx          context.Context
	tpl          *dsl.Template
	variantIndex int
	entities     []models.Entity
	conv         []models.Entity

	used      []bool
	chosen    [][]ref
	suffixMin []int
	mandatory int

	steps  int
	budget int
	out    []Candidate
}

func (s *search) entity(r ref) models.Entity {
	if r.conv {
		return s.conv[r.idx]
	}
	return s.entities[r.idx]
}

// walk assigns term i. lastEnd is the highest token index used so far by an
// ordered term; free is the number of unused current entities.
func (s *search) walk(i, lastEnd, free int) error {
	s.steps++
	if s.steps > s.budget {
		return ErrTimeoutExceeded
	}
	if s.steps&0x3ff == 0 {
		if err := s.ctx.Err(); err != nil {
			return err
		}
	}

	if i == len(s.tpl.Terms) {
		s.emit()
		return nil
	}
	if free < s.suffixMin[i] {
		return nil
	}

	term := s.tpl.Terms[i]
	pool := s.pool(term, lastEnd)
	upper := term.Max
	if upper > len(pool) {
		upper = len(pool)
	}

	for k := upper; k >= term.Min; k-- {
		err := combinations(len(pool), k, func(pick []int) error {
			sel := make([]ref, len(pick))
			end := lastEnd
			taken := 0
			for j, p := range pick {
				r := pool[p]
				sel[j] = r
				if !r.conv {
					s.used[r.idx] = true
					taken++
					if e := s.entities[r.idx]; term.Ordered && e.EndIndex > end {
						end = e.EndIndex
					}
				}
			}
			s.chosen[i] = sel

			err := s.walk(i+1, end, free-taken)

			for _, r := range sel {
				if !r.conv {
					s.used[r.idx] = false
				}
			}
			s.chosen[i] = nil
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *search) pool(term *dsl.Term, lastEnd int) []ref {
	var pool []ref
	for idx, e := range s.entities {
		if s.used[idx] || !term.Predicate.Eval(e) {
			continue
		}
		if term.Ordered && e.StartIndex <= lastEnd {
			continue
		}
		pool = append(pool, ref{idx: idx})
	}
	if term.Conversational && len(pool) < term.Min {
		for idx, e := range s.conv {
			if term.Predicate.Eval(e) {
				pool = append(pool, ref{idx: idx, conv: true})
			}
		}
	}
	return pool
}

func (s *search) emit() {
	c := Candidate{
		Template:     s.tpl,
		VariantIndex: s.variantIndex,
		Assignment:   make([]TermMatch, len(s.tpl.Terms)),
	}
	score := Score{Mandatory: s.mandatory}

	for i, term := range s.tpl.Terms {
		refs := s.chosen[i]
		tm := TermMatch{Term: term, Name: term.Label(), Entities: make([]models.Entity, len(refs))}
		allCurrent := true
		for j, r := range refs {
			e := s.entity(r)
			if r.conv {
				e = e.WithOrigin(models.OriginConversation)
				allCurrent = false
				score.ConversationEntities++
			} else {
				score.CurrentEntities++
			}
			tm.Entities[j] = e
		}
		if len(refs) > 0 {
			score.SatisfiedTerms++
			score.Specificity += term.Predicate.Specificity()
			if allCurrent {
				score.CurrentTerms++
			}
		}
		c.Assignment[i] = tm
	}
	// An assignment must explain at least one entity of this turn.
	if score.CurrentEntities == 0 {
		return
	}
	c.Score = score
	s.out = append(s.out, c)
}

// combinations calls fn with every k-subset of [0,n) in lexicographic order.
// The slice passed to fn is reused between calls.
func combinations(n, k int, fn func([]int) error) error {
	if k < 0 || k > n {
		return nil
	}
	pick := make([]int, k)
	for i := range pick {
		pick[i] = i
	}
	for {
		if err := fn(pick); err != nil {
			return err
		}
		i := k - 1
		for i >= 0 && pick[i] == n-k+i {
			i--
		}
		if i < 0 {
			return nil
		}
		pick[i]++
		for j := i + 1; j < k; j++ {
			pick[j] = pick[j-1] + 1
		}
	}
}
