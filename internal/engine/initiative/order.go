// Package initiative implements the turn-order rules of an encounter: the canonical
// sort, turn advancement with round wrap-around, and keeping the active turn pointed
// at the right combatant while the entry list changes.
package initiative

import (
	"cmp"
	"slices"

	"github.com/KirkDiggler/rpg-toolkit/core"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// Compare orders a before b when a acts first. Higher initiative first, unrolled
// entries sort as entities.UnrolledInitiative, ties go to the lower OrderIndex and
// finally the ID, so distinct entries never compare equal.
func Compare(a, b *entities.InitiativeEntry) int {
	if c := cmp.Compare(b.SortInitiative(), a.SortInitiative()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.OrderIndex, b.OrderIndex); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Sort returns a new slice in turn order; the input is left untouched
func Sort(entries []*entities.InitiativeEntry) []*entities.InitiativeEntry {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, Compare)
	return sorted
}

// TurnState is the (round, index) pair tracked on a started encounter
type TurnState struct {
	Round int
	Index int
}

// Advance moves to the next turn in a list of count entries, wrapping to index 0
// and incrementing the round past the last entry.
func Advance(state TurnState, count int) (TurnState, error) {
	if count <= 0 {
		return state, errors.FailedPrecondition("encounter has no combatants")
	}

	next := TurnState{Round: state.Round, Index: Clamp(state.Index, count) + 1}
	if next.Index >= count {
		next.Index = 0
		next.Round++
	}
	return next, nil
}

// Clamp returns index when it is valid for count entries, otherwise 0
func Clamp(index, count int) int {
	if index < 0 || index >= count {
		return 0
	}
	return index
}

// Reconcile maps the active index from the before ordering onto the after ordering.
// The combatant who was active stays active. If it was removed, the turn passes to
// the next surviving combatant in the old order, or to index 0 when none follows.
func Reconcile(before, after []*entities.InitiativeEntry, current int) int {
	if len(after) == 0 {
		return 0
	}
	if current < 0 || current >= len(before) {
		return Clamp(current, len(after))
	}

	position := make(map[string]int, len(after))
	for i, e := range after {
		position[e.ID] = i
	}

	for _, e := range before[current:] {
		if i, ok := position[e.ID]; ok {
			return i
		}
	}
	return 0
}

// Active returns the combatant whose turn it is, or nil for an empty list
func Active(sorted []*entities.InitiativeEntry, index int) core.Entity {
	if len(sorted) == 0 {
		return nil
	}
	return sorted[Clamp(index, len(sorted))]
}
