// Package conversation keeps per-session memory of entities seen in earlier
// turns, plus the flow of intents resolved so far.
package conversation

import (
	"sort"
	"time"

	"intent-engine/internal/models"
)

// Status is the session state machine: EMPTY until the first resolved turn,
// ACTIVE afterwards, back to EMPTY on clear or idle timeout.
type Status string

const (
	StatusEmpty  Status = "EMPTY"
	StatusActive Status = "ACTIVE"
)

// Entry is one remembered entity.
type Entry struct {
	Entity  models.Entity `json:"entity"`
	Turn    int64         `json:"turn"`
	AddedAt time.Time     `json:"addedAt"`
}

// DialogItem records one resolved intent.
type DialogItem struct {
	IntentID  string    `json:"intentId"`
	RequestID string    `json:"requestId,omitempty"`
	Turn      int64     `json:"turn"`
	At        time.Time `json:"at"`
}

// State is the stored conversation of one session.
type State struct {
	SessionID string       `json:"sessionId"`
	Turn      int64        `json:"turn"`
	Entries   []Entry      `json:"entries,omitempty"`
	Dialog    []DialogItem `json:"dialog,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func newState(sessionID string) *State {
	return &State{SessionID: sessionID}
}

func (s *State) Status() Status {
	if s.Turn == 0 {
		return StatusEmpty
	}
	return StatusActive
}

// Entities returns remembered entities, most recent turn first, each tagged
// as conversation-sourced. The result is a fresh slice.
func (s *State) Entities() []models.Entity {
	entries := make([]Entry, len(s.Entries))
	copy(entries, s.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Turn > entries[j].Turn })

	out := make([]models.Entity, len(entries))
	for i, e := range entries {
		out[i] = e.Entity.WithOrigin(models.OriginConversation)
	}
	return out
}

// Append stores the entities of a resolved turn under the next turn number.
// Entities already recalled from conversation are skipped, older entries with
// the same entity id are superseded, and turns older than depth are evicted.
func (s *State) Append(entities []models.Entity, depth int, now time.Time) {
	s.Turn++

	fresh := make(map[string]bool)
	added := make([]Entry, 0, len(entities))
	for _, e := range entities {
		if e.IsConversation() {
			continue
		}
		fresh[e.ID] = true
		added = append(added, Entry{
			Entity:  e.WithOrigin(models.OriginConversation),
			Turn:    s.Turn,
			AddedAt: now,
		})
	}

	kept := s.Entries[:0:0]
	for _, e := range s.Entries {
		if fresh[e.Entity.ID] {
			continue
		}
		if depth > 0 && e.Turn <= s.Turn-int64(depth) {
			continue
		}
		kept = append(kept, e)
	}
	s.Entries = append(kept, added...)
	s.UpdatedAt = now
}

// IntentIDs is the dialog flow as intent ids, oldest first.
func (s *State) IntentIDs() []string {
	out := make([]string, len(s.Dialog))
	for i, d := range s.Dialog {
		out[i] = d.IntentID
	}
	return out
}

// RecordIntent appends to the dialog flow, keeping at most limit items.
func (s *State) RecordIntent(intentID, requestID string, limit int, now time.Time) {
	s.Dialog = append(s.Dialog, DialogItem{
		IntentID:  intentID,
		RequestID: requestID,
		Turn:      s.Turn,
		At:        now,
	})
	if limit > 0 && len(s.Dialog) > limit {
		s.Dialog = append([]DialogItem(nil), s.Dialog[len(s.Dialog)-limit:]...)
	}
	s.UpdatedAt = now
}

// RemoveEntities drops remembered entities matching filter and reports how
// many were removed.
func (s *State) RemoveEntities(filter func(models.Entity) bool) int {
	kept := s.Entries[:0:0]
	for _, e := range s.Entries {
		if !filter(e.Entity) {
			kept = append(kept, e)
		}
	}
	n := len(s.Entries) - len(kept)
	s.Entries = kept
	return n
}

// RemoveDialog drops dialog items matching filter and reports how many were
// removed.
func (s *State) RemoveDialog(filter func(DialogItem) bool) int {
	kept := s.Dialog[:0:0]
	for _, d := range s.Dialog {
		if !filter(d) {
			kept = append(kept, d)
		}
	}
	n := len(s.Dialog) - len(kept)
	s.Dialog = kept
	return n
}

func (s *State) reset() {
	*s = State{SessionID: s.SessionID}
}

func (s *State) clone() *State {
	cp := *s
	cp.Entries = append([]Entry(nil), s.Entries...)
	cp.Dialog = append([]DialogItem(nil), s.Dialog...)
	return &cp
}
