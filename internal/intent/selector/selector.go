// Package selector runs the solver for every registered template against
// every sentence variant and picks one winner.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"intent-engine/internal/common/logger"
	"intent-engine/internal/common/metrics"
	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/intent/solver"
	"intent-engine/internal/models"
)

var (
	ErrNoMatchFound   = errors.New("NO_MATCH_FOUND")
	ErrAmbiguousMatch = errors.New("AMBIGUOUS_MATCH")
)

type FailureKind string

const (
	NoMatchFound   FailureKind = "NO_MATCH_FOUND"
	AmbiguousMatch FailureKind = "AMBIGUOUS_MATCH"
)

// MatchFailure is the typed result of a resolution with no single winner.
type MatchFailure struct {
	Kind FailureKind
	// IntentIDs lists the tied intents of an AmbiguousMatch in registration order.
	IntentIDs []string
	// TimedOut lists intents whose search ran out of budget.
	TimedOut []string
}

func (f *MatchFailure) Error() string {
	switch f.Kind {
	case AmbiguousMatch:
		return fmt.Sprintf("ambiguous match between intents %s", strings.Join(f.IntentIDs, ", "))
	default:
		return "no intent matched"
	}
}

// Is lets errors.Is match ErrNoMatchFound and ErrAmbiguousMatch.
func (f *MatchFailure) Is(target error) bool {
	switch target {
	case ErrNoMatchFound:
		return f.Kind == NoMatchFound
	case ErrAmbiguousMatch:
		return f.Kind == AmbiguousMatch
	}
	return false
}

type Config struct {
	// Workers bounds concurrent solver runs. Zero means one per job.
	Workers int
	// OrderTieBreak lets registration order settle ties between intents
	// instead of reporting AmbiguousMatch.
	OrderTieBreak bool
}

type Selector struct {
	solver *solver.Solver
	config Config
	logger logger.Logger
}

func New(s *solver.Solver, config Config, log logger.Logger) *Selector {
	return &Selector{
		solver: s,
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "selector"}),
	}
}

// Ranking is the best candidate of each matching intent, best first.
type Ranking struct {
	Candidates    []solver.Candidate
	TimedOut      []string
	orderTieBreak bool
}

// Resolve ranks all intents and chooses the winner.
func (s *Selector) Resolve(ctx context.Context, templates []*dsl.Template, variants []models.Variant, conv []models.Entity, flow []string) (*solver.Candidate, *Ranking, error) {
	ranking, err := s.Rank(ctx, templates, variants, conv, flow)
	if err != nil {
		return nil, nil, err
	}
	winner, err := ranking.Choose(0)
	return winner, ranking, err
}

// Rank runs the solver over (template x variant) and keeps the best
// candidate per intent. Templates whose flow expression rejects the dialog
// flow are not tried. The result does not depend on scheduling.
func (s *Selector) Rank(ctx context.Context, templates []*dsl.Template, variants []models.Variant, conv []models.Entity, flow []string) (*Ranking, error) {
	templates = s.eligible(templates, flow)
	nv := len(variants)
	slots := make([][]solver.Candidate, len(templates)*nv)
	timedOut := make([]bool, len(templates)*nv)

	g, gctx := errgroup.WithContext(ctx)
	if s.config.Workers > 0 {
		g.SetLimit(s.config.Workers)
	}
	for ti, tpl := range templates {
		for vi, v := range variants {
			slot := ti*nv + vi
			tpl, vi, entities := tpl, vi, v.Entities
			g.Go(func() error {
				cands, err := s.solver.Match(gctx, tpl, vi, entities, conv)
				if errors.Is(err, solver.ErrTimeoutExceeded) {
					timedOut[slot] = true
					return nil
				}
				if err != nil {
					return err
				}
				slots[slot] = cands
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranking := &Ranking{orderTieBreak: s.config.OrderTieBreak}
	for ti, tpl := range templates {
		var best *solver.Candidate
		tplTimedOut := false
		for vi := 0; vi < nv; vi++ {
			slot := ti*nv + vi
			if timedOut[slot] {
				tplTimedOut = true
				continue
			}
			for i := range slots[slot] {
				c := &slots[slot][i]
				if best == nil || c.Score.CompareWithin(best.Score) > 0 {
					best = c
				}
			}
		}
		if tplTimedOut {
			ranking.TimedOut = append(ranking.TimedOut, tpl.ID)
			metrics.SolverTimeouts.WithLabelValues(tpl.ID).Inc()
			s.logger.Warn("Intent search exceeded step budget", map[string]interface{}{
				"intentId": tpl.ID,
			})
		}
		if best != nil {
			ranking.Candidates = append(ranking.Candidates, *best)
		}
	}

	sort.SliceStable(ranking.Candidates, func(i, j int) bool {
		a, b := ranking.Candidates[i], ranking.Candidates[j]
		if c := a.Score.Compare(b.Score); c != 0 {
			return c > 0
		}
		return a.Template.Order < b.Template.Order
	})

	s.logger.Debug("Intents ranked", map[string]interface{}{
		"templates":  len(templates),
		"variants":   nv,
		"candidates": len(ranking.Candidates),
		"timedOut":   len(ranking.TimedOut),
	})
	return ranking, nil
}

func (s *Selector) eligible(templates []*dsl.Template, flow []string) []*dsl.Template {
	out := make([]*dsl.Template, 0, len(templates))
	for _, t := range templates {
		if t.FlowMatches(flow) {
			out = append(out, t)
			continue
		}
		s.logger.Debug("Intent skipped by dialog flow", map[string]interface{}{
			"intentId": t.ID,
			"flow":     t.Flow.String(),
		})
	}
	return out
}

// Choose picks the winner among Candidates[start:]. Intents tied with the
// first one on every score key make the result ambiguous unless registration
// order is allowed to decide.
func (r *Ranking) Choose(start int) (*solver.Candidate, error) {
	if start >= len(r.Candidates) {
		return nil, &MatchFailure{Kind: NoMatchFound, TimedOut: r.TimedOut}
	}
	top := &r.Candidates[start]
	if r.orderTieBreak {
		return top, nil
	}

	tied := []*solver.Candidate{top}
	for i := start + 1; i < len(r.Candidates); i++ {
		if r.Candidates[i].Score.Compare(top.Score) != 0 {
			break
		}
		tied = append(tied, &r.Candidates[i])
	}
	if len(tied) == 1 {
		return top, nil
	}

	ids := make([]string, len(tied))
	for i, c := range tied {
		ids[i] = c.Template.ID
	}
	return nil, &MatchFailure{Kind: AmbiguousMatch, IntentIDs: ids, TimedOut: r.TimedOut}
}

// Len is the number of intents with at least one candidate.
func (r *Ranking) Len() int { return len(r.Candidates) }
