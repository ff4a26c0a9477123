package solver

import "fmt"

// Score ranks a candidate. Compare orders by the primary keys, CompareWithin
// breaks ties between candidates of the same template.
type Score struct {
	// CurrentTerms counts satisfied terms filled only with current-turn
	// entities, SatisfiedTerms counts all non-empty terms.
	CurrentTerms   int `json:"currentTerms"`
	SatisfiedTerms int `json:"satisfiedTerms"`
	// Mandatory is the number of non-optional terms matched.
	Mandatory   int `json:"mandatory"`
	Specificity int `json:"specificity"`

	CurrentEntities      int `json:"currentEntities"`
	ConversationEntities int `json:"conversationEntities"`
}

// Fraction is CurrentTerms/SatisfiedTerms, 0 when nothing is satisfied.
func (s Score) Fraction() float64 {
	if s.SatisfiedTerms == 0 {
		return 0
	}
	return float64(s.CurrentTerms) / float64(s.SatisfiedTerms)
}

func (s Score) ratio() (int, int) {
	if s.SatisfiedTerms == 0 {
		return 0, 1
	}
	return s.CurrentTerms, s.SatisfiedTerms
}

// Compare returns 1 if s ranks above o, -1 if below, 0 on a tie. Keys in
// order: current-turn fraction, mandatory terms, specificity.
func (s Score) Compare(o Score) int {
	sn, sd := s.ratio()
	on, od := o.ratio()
	if c := cmpInt(sn*od, on*sd); c != 0 {
		return c
	}
	if c := cmpInt(s.Mandatory, o.Mandatory); c != 0 {
		return c
	}
	return cmpInt(s.Specificity, o.Specificity)
}

// CompareWithin extends Compare for candidates of one template: more
// current-turn entities, then fewer recalled ones.
func (s Score) CompareWithin(o Score) int {
	if c := s.Compare(o); c != 0 {
		return c
	}
	if c := cmpInt(s.CurrentEntities, o.CurrentEntities); c != 0 {
		return c
	}
	return cmpInt(o.ConversationEntities, s.ConversationEntities)
}

func (s Score) String() string {
	return fmt.Sprintf("%d/%d current, %d mandatory, specificity %d",
		s.CurrentTerms, s.SatisfiedTerms, s.Mandatory, s.Specificity)
}

func cmpInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}
